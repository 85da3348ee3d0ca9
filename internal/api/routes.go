package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		users := api.Group("/users/:user_id")
		{
			users.POST("/records", handler.CreateRecord)
			users.DELETE("/records/:record_id", handler.DeleteRecord)
			users.GET("/products/:product_id/records", handler.GetProductRecords)
			users.GET("/products/:product_id/stats", handler.GetProductStats)
			users.GET("/products/:product_id/display-price", handler.GetDisplayPrice)
			users.GET("/preferences", handler.GetPreferences)
			users.PUT("/preferences", handler.UpdatePreferences)
			users.POST("/import", handler.ImportRecords)
			users.POST("/extract", handler.ExtractAndImport)
		}

		api.GET("/stores", handler.GetStores)
		api.POST("/stores", handler.CreateStore)
		api.GET("/stores/nearby", handler.GetNearbyStores)
		api.POST("/update-coordinates", handler.UpdateCoordinates)
		api.POST("/reconcile", handler.RunReconciliation)
	}
}
