package models

// ProductCreate indexes one product into the vector store. When Vector is
// omitted the server embeds Title/Brand/Category text itself.
type ProductCreate struct {
	ProductID int64                  `json:"product_id" validate:"required,gt=0"`
	Title     string                 `json:"title" validate:"required"`
	Brand     string                 `json:"brand,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Price     float64                `json:"price,omitempty" validate:"omitempty,gte=0"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Vector    []float64              `json:"vector,omitempty"`
}

type ProductBatchCreate struct {
	Products []ProductCreate `json:"products" validate:"required,min=1,dive"`
}
