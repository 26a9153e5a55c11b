package models

// RecommendationMode reflects the user's current phase of activity.
type RecommendationMode string

const (
	ModeBrowsing     RecommendationMode = "browsing"
	ModePostPurchase RecommendationMode = "post_purchase"
	ModeColdStart    RecommendationMode = "cold_start"
)

// RecommendationSource names the component that produced an item.
type RecommendationSource string

const (
	SourceBehavioral      RecommendationSource = "behavioral"
	SourceTrending        RecommendationSource = "trending"
	SourceSemanticSimilar RecommendationSource = "semantic_similar"
	SourceComplementary   RecommendationSource = "complementary"
	SourceHybrid          RecommendationSource = "hybrid"
)

// RecommendationItem is a single scored product. Payload is attached during
// enrichment; Reason is stripped when the caller opts out of explanations.
type RecommendationItem struct {
	ProductID int64                  `json:"product_id"`
	Score     float64                `json:"score"`
	Source    RecommendationSource   `json:"source"`
	Reason    string                 `json:"reason,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// OrchestratedRequest controls a full multi-source recommendation pass.
// Pointer fields distinguish "omitted" from a deliberate zero.
type OrchestratedRequest struct {
	UserID           int64    `json:"user_id" validate:"required"`
	TotalLimit       int      `json:"total_limit" validate:"omitempty,min=1,max=100"`
	BehavioralWeight *float64 `json:"behavioral_weight" validate:"omitempty,min=0,max=1"`
	TrendingWeight   *float64 `json:"trending_weight" validate:"omitempty,min=0,max=1"`
	ActivityWeight   *float64 `json:"activity_weight" validate:"omitempty,min=0,max=1"`
	MMRDiversity     *float64 `json:"mmr_diversity" validate:"omitempty,min=0,max=1"`
	IncludeReasons   *bool    `json:"include_reasons"`
}

type OrchestratedResponse struct {
	UserID          int64                  `json:"user_id"`
	Mode            RecommendationMode     `json:"mode"`
	ModeContext     map[string]interface{} `json:"mode_context,omitempty"`
	TotalCount      int                    `json:"total_count"`
	SourcesUsed     []string               `json:"sources_used"`
	Strategy        string                 `json:"strategy"`
	Recommendations []RecommendationItem   `json:"recommendations"`
}

type ForYouRequest struct {
	UserID       int64    `json:"user_id" validate:"required"`
	Page         int      `json:"page" validate:"omitempty,min=1"`
	PageSize     int      `json:"page_size" validate:"omitempty,min=1,max=50"`
	MMRDiversity *float64 `json:"mmr_diversity" validate:"omitempty,min=0,max=1"`
}

type ForYouResponse struct {
	UserID          int64                `json:"user_id"`
	Page            int                  `json:"page"`
	PageSize        int                  `json:"page_size"`
	HasMore         bool                 `json:"has_more"`
	Mode            RecommendationMode   `json:"mode"`
	Strategy        string               `json:"strategy"`
	Recommendations []RecommendationItem `json:"recommendations"`
}

type UserModeResponse struct {
	UserID              int64                  `json:"user_id"`
	Mode                RecommendationMode     `json:"mode"`
	Context             map[string]interface{} `json:"context,omitempty"`
	StrategyDescription string                 `json:"strategy_description"`
}

type SimilarToRecentRequest struct {
	UserID            int64    `json:"user_id" validate:"required"`
	Limit             int      `json:"limit" validate:"omitempty,min=1,max=50"`
	UseMMR            *bool    `json:"use_mmr"`
	MMRDiversity      *float64 `json:"mmr_diversity" validate:"omitempty,min=0,max=1"`
	ExcludeProductIDs []int64  `json:"exclude_product_ids,omitempty"`
}

type ComplementaryRequest struct {
	UserID             int64 `json:"user_id" validate:"required"`
	PurchasedProductID int64 `json:"purchased_product_id" validate:"required"`
	Limit              int   `json:"limit" validate:"omitempty,min=1,max=50"`
}

// RerankRequest re-scores caller-supplied candidates, personalized when a
// user id is present.
type RerankRequest struct {
	ProductIDs []int64 `json:"product_ids" validate:"required,min=1"`
	UserID     *int64  `json:"user_id,omitempty"`
	Limit      int     `json:"limit" validate:"omitempty,min=1"`
}
