package models

// Extraction is the structured result of running a price tag or receipt line
// through the vision service. Fields the service could not read are left zero.
type Extraction struct {
	ProductName string  `json:"product_name"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	Currency    string  `json:"currency"`
	StoreName   string  `json:"store_name"`
}

// ExtractionRequest is the payload sent to the vision service.
type ExtractionRequest struct {
	ImageURL string `json:"image_url"`
}
