// Package graph is the typed adapter over the Neo4j interaction graph.
// Users, products and sessions are nodes; every interaction is its own
// INTERACTED edge, so the graph keeps full history rather than a
// de-duplicated relationship per pair.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/pkg/errkind"
	"github.com/lumora/affinity/pkg/models"
)

// eventWeightCase is the shared scoring fragment: purchase=80, cart=30, view=1.
const eventWeightCase = `CASE
             WHEN r.event_type = 'purchase' THEN 80
             WHEN r.event_type = 'cart' THEN 30
             WHEN r.event_type = 'view' THEN 1
             ELSE 0
         END`

type Store struct {
	driver neo4j.DriverWithContext
	logger *logrus.Logger
}

func New(driver neo4j.DriverWithContext, logger *logrus.Logger) *Store {
	return &Store{driver: driver, logger: logger}
}

func (s *Store) VerifyConnectivity(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return errkind.Wrap(errkind.BackendUnavailable, fmt.Errorf("graph connectivity check failed: %w", err))
	}
	return nil
}

// RecordInteraction upserts the user, product and session nodes and appends a
// new INTERACTED edge. Node creation is idempotent; edges are not.
func (s *Store) RecordInteraction(ctx context.Context, in Interaction) error {
	query := `
	MERGE (u:User {user_id: $user_id})
	MERGE (p:Product {product_id: $product_id})
	CREATE (u)-[r:INTERACTED {
	    event_type: $event_type,
	    event_time: $event_time,
	    session_id: $session_id
	}]->(p)
	RETURN r`

	params := map[string]any{
		"user_id":    in.UserID,
		"product_id": in.ProductID,
		"event_type": in.EventType,
		"event_time": formatEventTime(in.EventTime),
		"session_id": in.SessionID,
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		if _, err := result.Single(ctx); err != nil {
			return nil, err
		}
		if in.SessionID != "" {
			sessQuery := `
			MATCH (u:User {user_id: $user_id})
			MERGE (s:Session {session_id: $session_id})
			MERGE (u)-[:HAS_SESSION]->(s)`
			if _, err := tx.Run(ctx, sessQuery, map[string]any{
				"user_id":    in.UserID,
				"session_id": in.SessionID,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to record interaction: %w", err))
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    in.UserID,
		"product_id": in.ProductID,
		"event_type": in.EventType,
	}).Debug("Recorded interaction")

	return nil
}

// RecordBatch writes all interactions in a single transaction. Partial
// failure rolls back the whole batch.
func (s *Store) RecordBatch(ctx context.Context, interactions []Interaction) (int, error) {
	if len(interactions) == 0 {
		return 0, nil
	}

	query := `
	UNWIND $interactions AS i
	MERGE (u:User {user_id: i.user_id})
	MERGE (p:Product {product_id: i.product_id})
	CREATE (u)-[r:INTERACTED {
	    event_type: i.event_type,
	    event_time: i.event_time,
	    session_id: i.session_id
	}]->(p)
	RETURN count(r) AS count`

	rows := make([]map[string]any, len(interactions))
	for i, in := range interactions {
		rows[i] = map[string]any{
			"user_id":    in.UserID,
			"product_id": in.ProductID,
			"event_type": in.EventType,
			"event_time": formatEventTime(in.EventTime),
			"session_id": in.SessionID,
		}
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"interactions": rows})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("count")
		return count, nil
	})
	if err != nil {
		return 0, errkind.Wrap(errkind.BackendFailure, fmt.Errorf("failed to record interaction batch: %w", err))
	}

	committed := int(asInt64(result))
	s.logger.WithField("count", committed).Debug("Recorded interaction batch")
	return committed, nil
}

// Collaborative returns products liked by users who share history with uid,
// excluding anything uid has already touched. Scored by
// 10*recommender_count + event-weighted interaction sum.
func (s *Store) Collaborative(ctx context.Context, userID int64, limit, minShared int) ([]CollaborativeItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	MATCH (me:User {user_id: $user_id})-[:INTERACTED]->(my_products:Product)

	MATCH (my_products)<-[:INTERACTED]-(similar:User)
	WHERE similar.user_id <> $user_id

	WITH me, similar, count(DISTINCT my_products) AS shared_count
	WHERE shared_count >= $min_shared

	MATCH (similar)-[r:INTERACTED]->(rec:Product)
	WHERE NOT (me)-[:INTERACTED]->(rec)

	WITH rec.product_id AS product_id,
	     count(DISTINCT similar) AS recommender_count,
	     sum(` + eventWeightCase + `) AS interaction_score

	RETURN product_id,
	       recommender_count,
	       interaction_score,
	       (recommender_count * 10 + interaction_score) AS total_score
	ORDER BY total_score DESC
	LIMIT $limit`

	records, err := s.readAll(ctx, query, map[string]any{
		"user_id":    userID,
		"limit":      limit,
		"min_shared": minShared,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collaborative recommendations: %w", err)
	}

	items := make([]CollaborativeItem, 0, len(records))
	for _, rec := range records {
		items = append(items, CollaborativeItem{
			ProductID:        getInt64(rec, "product_id"),
			RecommenderCount: getInt64(rec, "recommender_count"),
			InteractionScore: getInt64(rec, "interaction_score"),
			TotalScore:       getInt64(rec, "total_score"),
		})
	}
	return items, nil
}

// SimilarUsers ranks other users by Jaccard similarity over interacted
// product sets.
func (s *Store) SimilarUsers(ctx context.Context, userID int64, limit int) ([]SimilarUser, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	MATCH (me:User {user_id: $user_id})-[:INTERACTED]->(p:Product)<-[:INTERACTED]-(other:User)
	WHERE other.user_id <> $user_id

	WITH other, count(DISTINCT p) AS shared_products

	MATCH (me:User {user_id: $user_id})-[:INTERACTED]->(my_p:Product)
	WITH other, shared_products, count(DISTINCT my_p) AS my_total

	MATCH (other)-[:INTERACTED]->(other_p:Product)
	WITH other, shared_products, my_total, count(DISTINCT other_p) AS other_total

	WITH other,
	     shared_products,
	     toFloat(shared_products) / (my_total + other_total - shared_products) AS similarity

	RETURN other.user_id AS user_id,
	       shared_products,
	       similarity
	ORDER BY similarity DESC
	LIMIT $limit`

	records, err := s.readAll(ctx, query, map[string]any{"user_id": userID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get similar users: %w", err)
	}

	users := make([]SimilarUser, 0, len(records))
	for _, rec := range records {
		users = append(users, SimilarUser{
			UserID:         getInt64(rec, "user_id"),
			SharedProducts: getInt64(rec, "shared_products"),
			Similarity:     getFloat64(rec, "similarity"),
		})
	}
	return users, nil
}

// SimilarProducts finds item-item co-occurrence over any event type, sorted
// by distinct co-users with the event-weighted score as tie-break.
func (s *Store) SimilarProducts(ctx context.Context, productID int64, limit int) ([]SimilarProduct, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	MATCH (p:Product {product_id: $product_id})<-[:INTERACTED]-(u:User)-[r:INTERACTED]->(other:Product)
	WHERE other.product_id <> $product_id

	WITH other.product_id AS product_id,
	     count(DISTINCT u) AS shared_users,
	     sum(` + eventWeightCase + `) AS interaction_score

	RETURN product_id,
	       shared_users,
	       interaction_score
	ORDER BY shared_users DESC, interaction_score DESC
	LIMIT $limit`

	records, err := s.readAll(ctx, query, map[string]any{"product_id": productID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get similar products: %w", err)
	}

	items := make([]SimilarProduct, 0, len(records))
	for _, rec := range records {
		items = append(items, SimilarProduct{
			ProductID:        getInt64(rec, "product_id"),
			SharedUsers:      getInt64(rec, "shared_users"),
			InteractionScore: getInt64(rec, "interaction_score"),
		})
	}
	return items, nil
}

// BoughtTogether finds same-session co-purchases.
func (s *Store) BoughtTogether(ctx context.Context, productID int64, limit int) ([]BoughtTogetherItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	MATCH (p:Product {product_id: $product_id})<-[r1:INTERACTED]-(u:User)-[r2:INTERACTED]->(other:Product)
	WHERE other.product_id <> $product_id
	  AND r1.event_type = 'purchase'
	  AND r2.event_type = 'purchase'
	  AND r1.session_id = r2.session_id

	WITH other.product_id AS product_id,
	     count(*) AS co_purchase_count

	RETURN product_id, co_purchase_count
	ORDER BY co_purchase_count DESC
	LIMIT $limit`

	records, err := s.readAll(ctx, query, map[string]any{"product_id": productID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get bought-together products: %w", err)
	}

	items := make([]BoughtTogetherItem, 0, len(records))
	for _, rec := range records {
		items = append(items, BoughtTogetherItem{
			ProductID:       getInt64(rec, "product_id"),
			CoPurchaseCount: getInt64(rec, "co_purchase_count"),
		})
	}
	return items, nil
}

// AlsoViewed finds same-session co-views.
func (s *Store) AlsoViewed(ctx context.Context, productID int64, limit int) ([]AlsoViewedItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	MATCH (p:Product {product_id: $product_id})<-[r1:INTERACTED]-(u:User)-[r2:INTERACTED]->(other:Product)
	WHERE other.product_id <> $product_id
	  AND r1.event_type = 'view'
	  AND r2.event_type = 'view'
	  AND r1.session_id = r2.session_id

	WITH other.product_id AS product_id,
	     count(DISTINCT u) AS user_count,
	     count(*) AS view_count

	RETURN product_id, user_count, view_count
	ORDER BY user_count DESC, view_count DESC
	LIMIT $limit`

	records, err := s.readAll(ctx, query, map[string]any{"product_id": productID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get also-viewed products: %w", err)
	}

	items := make([]AlsoViewedItem, 0, len(records))
	for _, rec := range records {
		items = append(items, AlsoViewedItem{
			ProductID: getInt64(rec, "product_id"),
			UserCount: getInt64(rec, "user_count"),
			ViewCount: getInt64(rec, "view_count"),
		})
	}
	return items, nil
}

// Trending ranks products by interaction count. With an event-type filter the
// count covers only those types; without it the per-type counters are broken
// out as well.
func (s *Store) Trending(ctx context.Context, limit int, eventTypes []string) ([]TrendingItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	var query string
	params := map[string]any{"limit": limit}

	if len(eventTypes) > 0 {
		query = `
		MATCH (u:User)-[r:INTERACTED]->(p:Product)
		WHERE r.event_type IN $event_types

		WITH p.product_id AS product_id,
		     count(r) AS total_interactions,
		     count(DISTINCT u) AS unique_users

		RETURN product_id, total_interactions, unique_users
		ORDER BY total_interactions DESC
		LIMIT $limit`
		params["event_types"] = eventTypes
	} else {
		query = `
		MATCH (u:User)-[r:INTERACTED]->(p:Product)

		WITH p.product_id AS product_id,
		     count(r) AS total_interactions,
		     count(DISTINCT u) AS unique_users,
		     sum(CASE WHEN r.event_type = 'purchase' THEN 1 ELSE 0 END) AS purchases,
		     sum(CASE WHEN r.event_type = 'cart' THEN 1 ELSE 0 END) AS carts,
		     sum(CASE WHEN r.event_type = 'view' THEN 1 ELSE 0 END) AS views

		RETURN product_id, total_interactions, unique_users, purchases, carts, views
		ORDER BY total_interactions DESC
		LIMIT $limit`
	}

	records, err := s.readAll(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get trending products: %w", err)
	}

	items := make([]TrendingItem, 0, len(records))
	for _, rec := range records {
		item := TrendingItem{
			ProductID:         getInt64(rec, "product_id"),
			TotalInteractions: getInt64(rec, "total_interactions"),
			UniqueUsers:       getInt64(rec, "unique_users"),
		}
		if len(eventTypes) == 0 {
			item.Purchases = getInt64(rec, "purchases")
			item.Carts = getInt64(rec, "carts")
			item.Views = getInt64(rec, "views")
		}
		items = append(items, item)
	}
	return items, nil
}

// ProductStats returns interaction counters for one product, or nil if the
// product node does not exist.
func (s *Store) ProductStats(ctx context.Context, productID int64) (*ProductStats, error) {
	query := `
	MATCH (p:Product {product_id: $product_id})
	OPTIONAL MATCH (u:User)-[r:INTERACTED]->(p)

	WITH p,
	     count(r) AS total_interactions,
	     count(DISTINCT u) AS unique_users,
	     sum(CASE WHEN r.event_type = 'view' THEN 1 ELSE 0 END) AS views,
	     sum(CASE WHEN r.event_type = 'cart' THEN 1 ELSE 0 END) AS carts,
	     sum(CASE WHEN r.event_type = 'purchase' THEN 1 ELSE 0 END) AS purchases

	RETURN p.product_id AS product_id,
	       total_interactions,
	       unique_users,
	       views,
	       carts,
	       purchases,
	       CASE WHEN views > 0
	            THEN toFloat(purchases) / views
	            ELSE 0
	       END AS conversion_rate`

	records, err := s.readAll(ctx, query, map[string]any{"product_id": productID})
	if err != nil {
		return nil, fmt.Errorf("failed to get product stats: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rec := records[0]
	return &ProductStats{
		ProductID:         getInt64(rec, "product_id"),
		TotalInteractions: getInt64(rec, "total_interactions"),
		UniqueUsers:       getInt64(rec, "unique_users"),
		Views:             getInt64(rec, "views"),
		Carts:             getInt64(rec, "carts"),
		Purchases:         getInt64(rec, "purchases"),
		ConversionRate:    getFloat64(rec, "conversion_rate"),
	}, nil
}

// UserHistory returns the user's interactions newest first, optionally
// filtered by event type.
func (s *Store) UserHistory(ctx context.Context, userID int64, limit int, eventTypes []string) ([]HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var query string
	params := map[string]any{"user_id": userID, "limit": limit}

	if len(eventTypes) > 0 {
		query = `
		MATCH (u:User {user_id: $user_id})-[r:INTERACTED]->(p:Product)
		WHERE r.event_type IN $event_types

		RETURN p.product_id AS product_id,
		       r.event_type AS event_type,
		       r.event_time AS event_time,
		       r.session_id AS session_id
		ORDER BY r.event_time DESC
		LIMIT $limit`
		params["event_types"] = eventTypes
	} else {
		query = `
		MATCH (u:User {user_id: $user_id})-[r:INTERACTED]->(p:Product)

		RETURN p.product_id AS product_id,
		       r.event_type AS event_type,
		       r.event_time AS event_time,
		       r.session_id AS session_id
		ORDER BY r.event_time DESC
		LIMIT $limit`
	}

	records, err := s.readAll(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get user history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, HistoryEntry{
			ProductID: getInt64(rec, "product_id"),
			EventType: getString(rec, "event_type"),
			EventTime: getString(rec, "event_time"),
			SessionID: getString(rec, "session_id"),
		})
	}
	return entries, nil
}

// RecentViewed returns the distinct products the user most recently viewed or
// carted, newest last-interaction first. Feeds the semantic-similarity source.
func (s *Store) RecentViewed(ctx context.Context, userID int64, limit int) ([]RecentProduct, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	MATCH (u:User {user_id: $user_id})-[r:INTERACTED]->(p:Product)
	WHERE r.event_type IN ['view', 'cart']

	WITH p.product_id AS product_id, max(r.event_time) AS last_interaction
	ORDER BY last_interaction DESC

	RETURN product_id, last_interaction AS event_time
	LIMIT $limit`

	records, err := s.readAll(ctx, query, map[string]any{"user_id": userID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get recently viewed products: %w", err)
	}

	products := make([]RecentProduct, 0, len(records))
	for _, rec := range records {
		products = append(products, RecentProduct{
			ProductID: getInt64(rec, "product_id"),
			EventTime: getString(rec, "event_time"),
		})
	}
	return products, nil
}

// HasRecentPurchase reports the user's most recent purchase inside the
// lookback window. The cutoff comparison works on wire-format timestamps,
// which order lexically.
func (s *Store) HasRecentPurchase(ctx context.Context, userID int64, lookbackHours int) (PurchaseCheck, error) {
	query := `
	MATCH (u:User {user_id: $user_id})-[r:INTERACTED]->(p:Product)
	WHERE r.event_type = 'purchase'
	  AND r.event_time >= $cutoff

	WITH p, r
	ORDER BY r.event_time DESC
	LIMIT 1

	RETURN p.product_id AS product_id,
	       r.event_time AS event_time,
	       r.session_id AS session_id`

	records, err := s.readAll(ctx, query, map[string]any{
		"user_id": userID,
		"cutoff":  LookbackCutoff(time.Now(), lookbackHours),
	})
	if err != nil {
		return PurchaseCheck{}, fmt.Errorf("failed to check recent purchase: %w", err)
	}
	if len(records) == 0 {
		return PurchaseCheck{}, nil
	}

	rec := records[0]
	return PurchaseCheck{
		HasPurchase:            true,
		LastPurchasedProductID: getInt64(rec, "product_id"),
		PurchaseTime:           getString(rec, "event_time"),
		SessionID:              getString(rec, "session_id"),
	}, nil
}

// PurchaseHistory returns the user's purchases newest first.
func (s *Store) PurchaseHistory(ctx context.Context, userID int64, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	MATCH (u:User {user_id: $user_id})-[r:INTERACTED]->(p:Product)
	WHERE r.event_type = 'purchase'

	RETURN p.product_id AS product_id,
	       r.event_type AS event_type,
	       r.event_time AS event_time,
	       r.session_id AS session_id
	ORDER BY r.event_time DESC
	LIMIT $limit`

	records, err := s.readAll(ctx, query, map[string]any{"user_id": userID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, HistoryEntry{
			ProductID: getInt64(rec, "product_id"),
			EventType: getString(rec, "event_type"),
			EventTime: getString(rec, "event_time"),
			SessionID: getString(rec, "session_id"),
		})
	}
	return entries, nil
}

// Complementary finds products purchased by buyers of the seed product in a
// different session. A null session on either side counts as different.
func (s *Store) Complementary(ctx context.Context, productID int64, limit int) ([]ComplementaryItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	MATCH (p:Product {product_id: $product_id})<-[r1:INTERACTED]-(u:User)
	WHERE r1.event_type = 'purchase'

	MATCH (u)-[r2:INTERACTED]->(other:Product)
	WHERE other.product_id <> $product_id
	  AND r2.event_type = 'purchase'
	  AND (r2.session_id IS NULL OR r1.session_id IS NULL OR r2.session_id <> r1.session_id)

	WITH other.product_id AS product_id,
	     count(DISTINCT u) AS buyer_count,
	     count(r2) AS purchase_count

	RETURN product_id,
	       buyer_count,
	       purchase_count,
	       (buyer_count * 2 + purchase_count) AS score
	ORDER BY score DESC
	LIMIT $limit`

	records, err := s.readAll(ctx, query, map[string]any{"product_id": productID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to get complementary products: %w", err)
	}

	items := make([]ComplementaryItem, 0, len(records))
	for _, rec := range records {
		items = append(items, ComplementaryItem{
			ProductID:     getInt64(rec, "product_id"),
			BuyerCount:    getInt64(rec, "buyer_count"),
			PurchaseCount: getInt64(rec, "purchase_count"),
			Score:         getInt64(rec, "score"),
		})
	}
	return items, nil
}

// RerankByPopularity re-scores caller-supplied product ids by event-weighted
// interaction sum. Unknown ids are dropped; no ids are invented.
func (s *Store) RerankByPopularity(ctx context.Context, productIDs []int64, limit int) ([]PopularityRank, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	query := `
	UNWIND $product_ids AS pid
	MATCH (p:Product {product_id: pid})
	OPTIONAL MATCH (u:User)-[r:INTERACTED]->(p)

	WITH pid,
	     count(r) AS total_interactions,
	     sum(` + eventWeightCase + `) AS weighted_score

	RETURN pid AS product_id,
	       total_interactions,
	       weighted_score
	ORDER BY weighted_score DESC`

	params := map[string]any{"product_ids": productIDs}
	if limit > 0 {
		query += `
	LIMIT $limit`
		params["limit"] = limit
	}

	records, err := s.readAll(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to rerank by popularity: %w", err)
	}

	ranks := make([]PopularityRank, 0, len(records))
	for _, rec := range records {
		ranks = append(ranks, PopularityRank{
			ProductID:         getInt64(rec, "product_id"),
			TotalInteractions: getInt64(rec, "total_interactions"),
			WeightedScore:     getInt64(rec, "weighted_score"),
		})
	}
	return ranks, nil
}

// RerankForUser re-scores candidate products by the affinity of users who
// share any product with the target user.
func (s *Store) RerankForUser(ctx context.Context, productIDs []int64, userID int64, limit int) ([]PersonalRank, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	query := `
	MATCH (me:User {user_id: $user_id})-[:INTERACTED]->(my_products:Product)

	MATCH (my_products)<-[:INTERACTED]-(similar:User)
	WHERE similar.user_id <> $user_id

	WITH collect(DISTINCT similar) AS similar_users

	UNWIND $product_ids AS pid
	MATCH (p:Product {product_id: pid})
	OPTIONAL MATCH (su)-[r:INTERACTED]->(p)
	WHERE su IN similar_users

	WITH pid,
	     count(DISTINCT su) AS similar_user_count,
	     sum(` + eventWeightCase + `) AS affinity_score

	RETURN pid AS product_id,
	       similar_user_count,
	       affinity_score
	ORDER BY affinity_score DESC`

	params := map[string]any{"product_ids": productIDs, "user_id": userID}
	if limit > 0 {
		query += `
	LIMIT $limit`
		params["limit"] = limit
	}

	records, err := s.readAll(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to rerank for user: %w", err)
	}

	ranks := make([]PersonalRank, 0, len(records))
	for _, rec := range records {
		ranks = append(ranks, PersonalRank{
			ProductID:        getInt64(rec, "product_id"),
			SimilarUserCount: getInt64(rec, "similar_user_count"),
			AffinityScore:    getInt64(rec, "affinity_score"),
		})
	}
	return ranks, nil
}

// Stats returns node and edge totals.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	query := `
	MATCH (u:User) WITH count(u) AS user_count
	MATCH (p:Product) WITH user_count, count(p) AS product_count
	MATCH ()-[r:INTERACTED]->() WITH user_count, product_count, count(r) AS interaction_count
	RETURN user_count, product_count, interaction_count`

	records, err := s.readAll(ctx, query, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get graph stats: %w", err)
	}
	if len(records) == 0 {
		return Stats{}, nil
	}

	rec := records[0]
	return Stats{
		Users:        getInt64(rec, "user_count"),
		Products:     getInt64(rec, "product_count"),
		Interactions: getInt64(rec, "interaction_count"),
	}, nil
}

// readAll runs a read query in a scoped session and collects every record
// into a plain map keyed by the RETURN aliases.
func (s *Store) readAll(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}

		var rows []map[string]any
		for result.Next(ctx) {
			record := result.Record()
			row := make(map[string]any, len(record.Keys))
			for _, key := range record.Keys {
				value, _ := record.Get(key)
				row[key] = value
			}
			rows = append(rows, row)
		}
		return rows, result.Err()
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendFailure, err)
	}
	return result.([]map[string]any), nil
}

// LookbackCutoff formats now-lookbackHours as a wire-format timestamp for
// lexical comparison against stored event times.
func LookbackCutoff(now time.Time, lookbackHours int) string {
	return now.UTC().Add(-time.Duration(lookbackHours) * time.Hour).Format(models.EventTimeLayout)
}

func formatEventTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(models.EventTimeLayout)
}

func getInt64(row map[string]any, key string) int64   { return asInt64(row[key]) }
func getString(row map[string]any, key string) string { v, _ := row[key].(string); return v }

func getFloat64(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
