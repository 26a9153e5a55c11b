package graph

import "time"

// Interaction is one append-only User→Product edge. EventTime is stored on
// the edge in the wire format "YYYY-MM-DD HH:MM:SS" (UTC, second precision),
// which sorts lexically in chronological order.
type Interaction struct {
	UserID    int64
	ProductID int64
	EventType string
	SessionID string
	EventTime time.Time
}

// CollaborativeItem is a product recommended by users who share history with
// the target user. TotalScore = 10*RecommenderCount + InteractionScore.
type CollaborativeItem struct {
	ProductID        int64   `json:"product_id"`
	RecommenderCount int64   `json:"recommender_count"`
	InteractionScore int64   `json:"interaction_score"`
	TotalScore       int64   `json:"total_score"`
	Reason           string  `json:"reason,omitempty"`
	Score            float64 `json:"-"`
}

type SimilarUser struct {
	UserID         int64   `json:"user_id"`
	SharedProducts int64   `json:"shared_products"`
	Similarity     float64 `json:"similarity"`
}

type SimilarProduct struct {
	ProductID        int64 `json:"product_id"`
	SharedUsers      int64 `json:"shared_users"`
	InteractionScore int64 `json:"interaction_score"`
}

type BoughtTogetherItem struct {
	ProductID       int64 `json:"product_id"`
	CoPurchaseCount int64 `json:"co_purchase_count"`
}

type AlsoViewedItem struct {
	ProductID int64 `json:"product_id"`
	UserCount int64 `json:"user_count"`
	ViewCount int64 `json:"view_count"`
}

// TrendingItem carries per-type counters only when no event-type filter was
// applied; with a filter the score is just the filtered interaction count.
type TrendingItem struct {
	ProductID         int64 `json:"product_id"`
	TotalInteractions int64 `json:"total_interactions"`
	UniqueUsers       int64 `json:"unique_users"`
	Purchases         int64 `json:"purchases,omitempty"`
	Carts             int64 `json:"carts,omitempty"`
	Views             int64 `json:"views,omitempty"`
}

type ProductStats struct {
	ProductID         int64   `json:"product_id"`
	TotalInteractions int64   `json:"total_interactions"`
	UniqueUsers       int64   `json:"unique_users"`
	Views             int64   `json:"views"`
	Carts             int64   `json:"carts"`
	Purchases         int64   `json:"purchases"`
	ConversionRate    float64 `json:"conversion_rate"`
}

type HistoryEntry struct {
	ProductID int64  `json:"product_id"`
	EventType string `json:"event_type"`
	EventTime string `json:"event_time"`
	SessionID string `json:"session_id"`
}

type RecentProduct struct {
	ProductID int64  `json:"product_id"`
	EventType string `json:"event_type"`
	EventTime string `json:"event_time"`
}

// PurchaseCheck reports the most recent purchase inside the lookback window.
type PurchaseCheck struct {
	HasPurchase            bool   `json:"has_purchase"`
	LastPurchasedProductID int64  `json:"last_purchased_product_id,omitempty"`
	PurchaseTime           string `json:"purchase_time,omitempty"`
	SessionID              string `json:"session_id,omitempty"`
}

// ComplementaryItem is a product purchased by buyers of the seed product in a
// different session. Score = 2*BuyerCount + PurchaseCount.
type ComplementaryItem struct {
	ProductID     int64 `json:"product_id"`
	BuyerCount    int64 `json:"buyer_count"`
	PurchaseCount int64 `json:"purchase_count"`
	Score         int64 `json:"score"`
}

type PopularityRank struct {
	ProductID         int64 `json:"product_id"`
	TotalInteractions int64 `json:"total_interactions"`
	WeightedScore     int64 `json:"weighted_score"`
}

type PersonalRank struct {
	ProductID        int64 `json:"product_id"`
	SimilarUserCount int64 `json:"similar_user_count"`
	AffinityScore    int64 `json:"affinity_score"`
}

type Stats struct {
	Users        int64 `json:"users"`
	Products     int64 `json:"products"`
	Interactions int64 `json:"interactions"`
}
