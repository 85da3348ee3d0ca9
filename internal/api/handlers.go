package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pricetag/server/config"
	"pricetag/server/internal/database"
	"pricetag/server/internal/geocoding"
	"pricetag/server/internal/importing"
	"pricetag/server/internal/models"
	"pricetag/server/internal/queue"
	"pricetag/server/internal/scheduler"
	"pricetag/server/internal/stats"
	"pricetag/server/internal/stores"
	"pricetag/server/internal/units"
	"pricetag/server/internal/vision"
)

type Handler struct {
	db         *database.Database
	logger     *logrus.Logger
	converter  *units.Converter
	geocoder   *geocoding.Geocoder
	locator    *stores.Locator
	importer   *importing.Importer
	reconciler *scheduler.Scheduler
}

type RecordRequest struct {
	UserProductID string  `json:"user_product_id" binding:"required"`
	StoreID       string  `json:"store_id" binding:"required"`
	Price         float64 `json:"price" binding:"required"`
	Quantity      float64 `json:"quantity" binding:"required"`
	Unit          string  `json:"unit" binding:"required"`
	Currency      string  `json:"currency"`
	PhotoURL      string  `json:"photo_url"`
}

type StoreRequest struct {
	Name       string `json:"name" binding:"required"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

type PreferenceRequest struct {
	Currency string `json:"currency" binding:"required"`
	Unit     string `json:"unit"`
}

type ImportRequest struct {
	Items []importing.Item `json:"items" binding:"required"`
}

type ExtractRequest struct {
	UserProductID string `json:"user_product_id" binding:"required"`
	ImageURL      string `json:"image_url" binding:"required"`
}

func NewHandler(db *database.Database, cfg *config.Config, recordQueue *queue.RecordQueue, reconciler *scheduler.Scheduler, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	cacheDir := filepath.Join(os.TempDir(), "pricetag", "geocode_cache")
	geocoder := geocoding.NewGeocoder(logger, cacheDir, cfg.Geocoding.NominatimURL, cfg.Geocoding.CountryCode)

	converter := units.NewConverter(config.GetUnitCatalog())
	visionClient := vision.NewClient(logger, cfg.Vision.Endpoint, cfg.Vision.APIKey)
	if !visionClient.IsConfigured() {
		logger.Warn("Vision extraction endpoint not configured; image imports will be rejected")
	}

	return &Handler{
		db:         db,
		logger:     logger,
		converter:  converter,
		geocoder:   geocoder,
		locator:    stores.NewLocator(db.GetDB(), logger),
		importer:   importing.NewImporter(db, converter, recordQueue, visionClient, logger),
		reconciler: reconciler,
	}
}

// conversionStatus maps unit conversion failures to a 400 and everything else
// to a 500. An unsupported unit rejects the record; it is never stored with a
// defaulted price.
func conversionStatus(err error) int {
	if errors.Is(err, units.ErrUnsupportedUnit) ||
		errors.Is(err, units.ErrInvalidQuantity) ||
		errors.Is(err, units.ErrInvalidPrice) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// CreateRecord stores one price observation and folds it into the product's
// statistics before responding.
func (h *Handler) CreateRecord(c *gin.Context) {
	userID := c.Param("user_id")

	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to parse record request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	standardPrice, err := h.converter.StandardizePrice(req.Price, req.Quantity, req.Unit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to standardize price")
		c.JSON(conversionStatus(err), gin.H{"error": err.Error()})
		return
	}

	store, err := h.db.GetStoreByID(req.StoreID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up store")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up store"})
		return
	}
	if store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Store not found"})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	now := time.Now().UTC()
	record := &models.PriceRecord{
		ID:                uuid.NewString(),
		UserID:            userID,
		UserProductID:     req.UserProductID,
		StoreID:           store.ID,
		StoreName:         store.Name,
		OriginalPrice:     req.Price,
		OriginalQuantity:  req.Quantity,
		OriginalUnit:      req.Unit,
		StandardUnitPrice: standardPrice,
		Currency:          currency,
		PhotoURL:          req.PhotoURL,
		CatalogVersion:    h.converter.CatalogVersion(),
		RecordedAt:        now,
		CreatedAt:         now,
	}

	if err := h.db.InsertPriceRecord(record); err != nil {
		h.logger.WithError(err).Error("Failed to insert price record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save record"})
		return
	}

	// Read-modify-write; a concurrently deleted document is recreated by
	// the upsert (last-writer-wins).
	current, err := h.db.GetStatistics(userID, req.UserProductID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update statistics"})
		return
	}

	updated := stats.ApplyNewRecord(current, stats.Observation{
		Price:     standardPrice,
		StoreID:   store.ID,
		StoreName: store.Name,
		Currency:  currency,
	}, now)
	updated.UserID = userID
	updated.UserProductID = req.UserProductID

	if err := h.db.UpsertStatistics(&updated); err != nil {
		h.logger.WithError(err).Error("Failed to write statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update statistics"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"record":     record,
		"statistics": updated,
	})
}

// DeleteRecord removes a price record and recomputes the product's statistics
// before responding; removing the last record cascades into deleting the
// statistics document.
func (h *Handler) DeleteRecord(c *gin.Context) {
	userID := c.Param("user_id")
	recordID := c.Param("record_id")

	record, err := h.db.GetPriceRecord(userID, recordID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get price record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get record"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}

	if err := h.db.DeletePriceRecord(userID, recordID); err != nil {
		h.logger.WithError(err).Error("Failed to delete price record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete record"})
		return
	}

	remaining, err := h.db.GetRecordsForProduct(userID, record.UserProductID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load remaining records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to recompute statistics"})
		return
	}

	recomputed, tombstone := stats.RecomputeAfterDelete(remaining, time.Now().UTC())
	if tombstone {
		if err := h.db.DeleteStatistics(userID, record.UserProductID); err != nil {
			h.logger.WithError(err).Error("Failed to delete statistics")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to recompute statistics"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "tombstone": true})
		return
	}

	if err := h.db.UpsertStatistics(recomputed); err != nil {
		h.logger.WithError(err).Error("Failed to write recomputed statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to recompute statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "deleted",
		"tombstone":  false,
		"statistics": recomputed,
	})
}

// GetProductRecords returns all of a user's price records for one product.
func (h *Handler) GetProductRecords(c *gin.Context) {
	userID := c.Param("user_id")
	productID := c.Param("product_id")

	records, err := h.db.GetRecordsForProduct(userID, productID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get price records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get records"})
		return
	}

	c.JSON(http.StatusOK, records)
}

// GetProductStats returns the raw (standardized) statistics document.
func (h *Handler) GetProductStats(c *gin.Context) {
	userID := c.Param("user_id")
	productID := c.Param("product_id")

	statistics, err := h.db.GetStatistics(userID, productID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get statistics"})
		return
	}
	if statistics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No statistics for product"})
		return
	}

	c.JSON(http.StatusOK, statistics)
}

// GetDisplayPrice returns the product's statistics expressed in the viewer's
// preferred unit. Without a usable preference the standardized prices pass
// through unchanged; the render path degrades instead of failing.
func (h *Handler) GetDisplayPrice(c *gin.Context) {
	userID := c.Param("user_id")
	productID := c.Param("product_id")

	statistics, err := h.db.GetStatistics(userID, productID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get statistics"})
		return
	}
	if statistics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No statistics for product"})
		return
	}

	targetUnit := c.Query("unit")
	if targetUnit == "" {
		if pref, err := h.db.GetUserPreference(userID); err != nil {
			h.logger.WithError(err).Error("Failed to get user preference")
		} else if pref != nil {
			targetUnit = pref.Unit
		}
	}

	// The product's family comes from its records; expanding a weight price
	// into a volume unit would be nonsense, so cross-family preferences
	// fall back to the standardized price.
	if targetUnit != "" {
		records, err := h.db.GetRecordsForProduct(userID, productID)
		if err != nil {
			h.logger.WithError(err).Error("Failed to load records for family check")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get display price"})
			return
		}
		if len(records) > 0 && !h.converter.SameFamily(records[len(records)-1].OriginalUnit, targetUnit) {
			targetUnit = ""
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"unit":          targetUnit,
		"currency":      statistics.Currency,
		"lowest_price":  h.converter.ExpandToDisplayUnit(statistics.LowestPrice, targetUnit),
		"average_price": h.converter.ExpandToDisplayUnit(statistics.AveragePrice, targetUnit),
		"highest_price": h.converter.ExpandToDisplayUnit(statistics.HighestPrice, targetUnit),
	})
}

// GetPreferences returns a user's display preference. An unset preference is
// a valid state, answered with empty values rather than an error.
func (h *Handler) GetPreferences(c *gin.Context) {
	userID := c.Param("user_id")

	pref, err := h.db.GetUserPreference(userID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get user preference")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get preferences"})
		return
	}
	if pref == nil {
		pref = &models.UserPreference{UserID: userID, Currency: "USD"}
	}

	c.JSON(http.StatusOK, pref)
}

// UpdatePreferences saves a user's display preference. The unit, when set,
// must exist in the catalog.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	userID := c.Param("user_id")

	var req PreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to parse preference request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	if req.Unit != "" {
		if _, ok := config.GetUnitCatalog().Family(req.Unit); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown display unit: " + req.Unit})
			return
		}
	}

	pref := &models.UserPreference{
		UserID:   userID,
		Currency: req.Currency,
		Unit:     req.Unit,
	}
	if err := h.db.UpsertUserPreference(pref); err != nil {
		h.logger.WithError(err).Error("Failed to save user preference")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save preferences"})
		return
	}

	c.JSON(http.StatusOK, pref)
}

// GetStores lists every registered store.
func (h *Handler) GetStores(c *gin.Context) {
	allStores, err := h.db.GetStores()
	if err != nil {
		h.logger.WithError(err).Error("Failed to get stores")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stores"})
		return
	}

	c.JSON(http.StatusOK, allStores)
}

// CreateStore registers a store. Coordinates are filled in later by the
// geocoding backfill.
func (h *Handler) CreateStore(c *gin.Context) {
	var req StoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to parse store request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	store := &models.Store{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Street:     req.Street,
		City:       req.City,
		PostalCode: req.PostalCode,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.db.InsertStore(store); err != nil {
		h.logger.WithError(err).Error("Failed to insert store")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save store"})
		return
	}

	c.JSON(http.StatusCreated, store)
}

// GetNearbyStores returns geocoded stores within a radius of a point.
func (h *Handler) GetNearbyStores(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid latitude"})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid longitude"})
		return
	}

	radius := 5000.0
	if radiusStr := c.Query("radius"); radiusStr != "" {
		if r, err := strconv.ParseFloat(radiusStr, 64); err == nil && r > 0 {
			radius = r
		}
	}

	nearby, err := h.locator.Nearby(lat, lon, radius)
	if err != nil {
		h.logger.WithError(err).Error("Failed to find nearby stores")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to find nearby stores"})
		return
	}

	c.JSON(http.StatusOK, nearby)
}

// UpdateCoordinates geocodes stores that have an address but no coordinates.
func (h *Handler) UpdateCoordinates(c *gin.Context) {
	updated, err := h.db.UpdateMissingCoordinates(h.geocoder)
	if err != nil {
		h.logger.WithError(err).Error("Failed to update coordinates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update coordinates"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// ImportRecords imports a batch of receipt lines for a user.
func (h *Handler) ImportRecords(c *gin.Context) {
	userID := c.Param("user_id")

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to parse import request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	result, err := h.importer.Import(userID, req.Items)
	if err != nil {
		h.logger.WithError(err).Error("Import failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Import failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ExtractAndImport runs an image through the vision service and imports the
// extracted price line.
func (h *Handler) ExtractAndImport(c *gin.Context) {
	userID := c.Param("user_id")

	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Failed to parse extract request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	result, err := h.importer.ImportFromImage(c.Request.Context(), userID, req.UserProductID, req.ImageURL)
	if err != nil {
		if errors.Is(err, vision.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Vision extraction is not configured"})
			return
		}
		h.logger.WithError(err).Error("Extraction import failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Extraction failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// RunReconciliation triggers a full statistics reconciliation pass.
func (h *Handler) RunReconciliation(c *gin.Context) {
	if err := h.reconciler.RunReconciliation(); err != nil {
		h.logger.WithError(err).Error("Reconciliation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Reconciliation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Reconciliation completed"})
}
