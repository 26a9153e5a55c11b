package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/vector"
	"github.com/lumora/affinity/pkg/models"
)

// OrchestratorService blends the recommendation sources into one ranked list.
// The mode switch is the core idea: semantic exploration while the user
// browses, complementary products right after a purchase, trending for
// users the graph knows nothing about.
type OrchestratorService struct {
	graph  GraphStore
	vector VectorStore
	redis  *redis.Client
	config *config.RecommendConfig
	logger *logrus.Logger
}

func NewOrchestratorService(store GraphStore, vec VectorStore, redisClient *redis.Client, cfg *config.RecommendConfig, logger *logrus.Logger) *OrchestratorService {
	return &OrchestratorService{
		graph:  store,
		vector: vec,
		redis:  redisClient,
		config: cfg,
		logger: logger,
	}
}

// DetermineUserMode classifies the user by recent activity. Any adapter
// failure degrades to cold start rather than failing the request.
func (s *OrchestratorService) DetermineUserMode(ctx context.Context, userID int64) (models.RecommendationMode, map[string]interface{}) {
	check, err := s.graph.HasRecentPurchase(ctx, userID, s.config.PostPurchase.LookbackHours)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Mode classification failed, falling back to cold start")
		return models.ModeColdStart, nil
	}

	if check.HasPurchase {
		return models.ModePostPurchase, map[string]interface{}{
			"has_purchase":              true,
			"last_purchased_product_id": check.LastPurchasedProductID,
			"purchase_time":             check.PurchaseTime,
			"session_id":                check.SessionID,
		}
	}

	history, err := s.graph.UserHistory(ctx, userID, 5, nil)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Mode classification failed, falling back to cold start")
		return models.ModeColdStart, nil
	}
	if len(history) == 0 {
		return models.ModeColdStart, nil
	}
	return models.ModeBrowsing, map[string]interface{}{"recent_interactions": len(history)}
}

// BehavioralRecommendations is the "users like you also liked" source.
func (s *OrchestratorService) BehavioralRecommendations(ctx context.Context, userID int64, limit int) []models.RecommendationItem {
	results, err := s.graph.Collaborative(ctx, userID, limit, s.config.MinSharedInteraction)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to get behavioral recommendations")
		return nil
	}

	items := make([]models.RecommendationItem, 0, len(results))
	for _, r := range results {
		items = append(items, models.RecommendationItem{
			ProductID: r.ProductID,
			Score:     float64(r.TotalScore),
			Source:    models.SourceBehavioral,
			Reason:    fmt.Sprintf("Based on %d similar users", r.RecommenderCount),
		})
	}
	return items
}

// TrendingItems returns popular products, optionally restricted to certain
// event types (e.g. purchases only for bestsellers).
func (s *OrchestratorService) TrendingItems(ctx context.Context, limit int, eventTypes []string) []models.RecommendationItem {
	results, err := s.graph.Trending(ctx, limit, eventTypes)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get trending items")
		return nil
	}

	items := make([]models.RecommendationItem, 0, len(results))
	for _, r := range results {
		items = append(items, models.RecommendationItem{
			ProductID: r.ProductID,
			Score:     float64(r.TotalInteractions),
			Source:    models.SourceTrending,
			Reason:    fmt.Sprintf("Popular with %d users", r.UniqueUsers),
		})
	}
	return items
}

// SimilarToRecentActivity anchors a diversity-reranked vector search on the
// user's recent views and carts. The graph supplies the anchors, the vector
// store supplies the neighbours.
func (s *OrchestratorService) SimilarToRecentActivity(ctx context.Context, userID int64, limit int, useMMR bool, mmrDiversity float64, excludeProductIDs []int64) []models.RecommendationItem {
	recent, err := s.graph.RecentViewed(ctx, userID, 5)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to get recent activity")
		return nil
	}
	if len(recent) == 0 {
		s.logger.WithField("user_id", userID).Info("No recent activity")
		return nil
	}

	seen := make(map[int64]bool, len(excludeProductIDs)+len(recent))
	for _, id := range excludeProductIDs {
		seen[id] = true
	}
	for _, p := range recent {
		seen[p.ProductID] = true
	}

	anchors := recent
	if len(anchors) > 3 {
		anchors = anchors[:3]
	}

	var all []models.RecommendationItem
	for _, anchor := range anchors {
		points, err := s.vector.Retrieve(ctx, []int64{anchor.ProductID}, true)
		if err != nil || len(points) == 0 || len(points[0].Vector) == 0 {
			if err != nil {
				s.logger.WithError(err).WithField("product_id", anchor.ProductID).Warn("Failed to retrieve anchor vector")
			}
			continue
		}

		results, err := s.vector.Search(ctx, points[0].Vector, vector.SearchOptions{
			Limit:         limit,
			UseMMR:        useMMR,
			MMRDiversity:  mmrDiversity,
			MMRCandidates: limit * 10,
		})
		if err != nil {
			s.logger.WithError(err).WithField("product_id", anchor.ProductID).Warn("Similarity search failed")
			continue
		}

		for _, r := range results {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			all = append(all, models.RecommendationItem{
				ProductID: r.ID,
				Score:     r.Score,
				Source:    models.SourceSemanticSimilar,
				Reason:    "Similar to recently viewed item",
				Payload:   r.Payload,
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// ComplementaryProducts suggests cross-session co-purchases of the product
// the user just bought, minus anything they already own.
func (s *OrchestratorService) ComplementaryProducts(ctx context.Context, purchasedProductID, userID int64, limit int) []models.RecommendationItem {
	purchases, err := s.graph.PurchaseHistory(ctx, userID, 50)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to get purchase history")
		return nil
	}
	exclude := make(map[int64]bool, len(purchases))
	for _, p := range purchases {
		exclude[p.ProductID] = true
	}

	// Over-fetch to survive the exclusion filter.
	results, err := s.graph.Complementary(ctx, purchasedProductID, limit+len(exclude))
	if err != nil {
		s.logger.WithError(err).WithField("product_id", purchasedProductID).Error("Failed to get complementary products")
		return nil
	}

	items := make([]models.RecommendationItem, 0, limit)
	for _, r := range results {
		if exclude[r.ProductID] {
			continue
		}
		items = append(items, models.RecommendationItem{
			ProductID: r.ProductID,
			Score:     float64(r.Score),
			Source:    models.SourceComplementary,
			Reason:    fmt.Sprintf("Complements your recent purchase (%d buyers also got this)", r.BuyerCount),
		})
		if len(items) >= limit {
			break
		}
	}
	return items
}

// Orchestrated runs the full multi-source pass for one user.
func (s *OrchestratorService) Orchestrated(ctx context.Context, req models.OrchestratedRequest) (*models.OrchestratedResponse, error) {
	totalLimit := req.TotalLimit
	if totalLimit <= 0 {
		totalLimit = s.config.DefaultLimit
	}
	behavioralWeight := floatOr(req.BehavioralWeight, s.config.Weights.Behavioral)
	trendingWeight := floatOr(req.TrendingWeight, s.config.Weights.Trending)
	activityWeight := floatOr(req.ActivityWeight, s.config.Weights.Activity)
	mmrDiversity := floatOr(req.MMRDiversity, s.config.MMRDiversity.Default)
	includeReasons := req.IncludeReasons == nil || *req.IncludeReasons

	cacheKey := fmt.Sprintf("orchestrated:%d:%d:%.3f:%.3f:%.3f:%.3f:%t",
		req.UserID, totalLimit, behavioralWeight, trendingWeight, activityWeight, mmrDiversity, includeReasons)
	if cached := s.cacheGet(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	mode, modeContext := s.DetermineUserMode(ctx, req.UserID)
	s.logger.WithFields(logrus.Fields{
		"user_id": req.UserID,
		"mode":    mode,
	}).Info("Orchestrating recommendations")

	behavioralLimit, trendingLimit, activityLimit := allocateBudgets(behavioralWeight, trendingWeight, activityWeight, totalLimit)

	var recommendations []models.RecommendationItem
	sourcesUsed := make([]string, 0, 3)

	if behavioral := s.BehavioralRecommendations(ctx, req.UserID, behavioralLimit); len(behavioral) > 0 {
		recommendations = append(recommendations, behavioral...)
		sourcesUsed = append(sourcesUsed, string(models.SourceBehavioral))
	}

	if trending := s.TrendingItems(ctx, trendingLimit, nil); len(trending) > 0 {
		recommendations = append(recommendations, trending...)
		sourcesUsed = append(sourcesUsed, string(models.SourceTrending))
	}

	switch mode {
	case models.ModePostPurchase:
		purchasedID, _ := modeContext["last_purchased_product_id"].(int64)
		if purchasedID != 0 {
			complementary := s.ComplementaryProducts(ctx, purchasedID, req.UserID, activityLimit)
			if len(complementary) > 0 {
				recommendations = append(recommendations, complementary...)
				sourcesUsed = append(sourcesUsed, string(models.SourceComplementary))
			} else {
				s.logger.WithField("product_id", purchasedID).Warn("No complementary products found")
			}
		}

	case models.ModeBrowsing:
		excludeIDs := make([]int64, len(recommendations))
		for i, r := range recommendations {
			excludeIDs[i] = r.ProductID
		}
		similar := s.SimilarToRecentActivity(ctx, req.UserID, activityLimit, true, mmrDiversity, excludeIDs)
		if len(similar) > 0 {
			recommendations = append(recommendations, similar...)
			sourcesUsed = append(sourcesUsed, string(models.SourceSemanticSimilar))
		}

	default: // cold start
		present := make(map[int64]bool, len(recommendations))
		for _, r := range recommendations {
			present[r.ProductID] = true
		}
		for _, rec := range s.TrendingItems(ctx, activityLimit, []string{models.EventPurchase}) {
			if !present[rec.ProductID] {
				recommendations = append(recommendations, rec)
			}
		}
	}

	unique := dedupeKeepBest(recommendations)
	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Score > unique[j].Score })
	if len(unique) > totalLimit {
		unique = unique[:totalLimit]
	}

	s.enrich(ctx, unique)

	if !includeReasons {
		for i := range unique {
			unique[i].Reason = ""
		}
	}

	resp := &models.OrchestratedResponse{
		UserID:          req.UserID,
		Mode:            mode,
		ModeContext:     modeContext,
		TotalCount:      len(unique),
		SourcesUsed:     sourcesUsed,
		Strategy:        StrategyDescription(mode),
		Recommendations: unique,
	}

	s.cacheSet(ctx, cacheKey, resp)
	return resp, nil
}

// ForYou is the paginated front page: one orchestrated pass sized for the
// requested page plus a lookahead buffer.
func (s *OrchestratorService) ForYou(ctx context.Context, req models.ForYouRequest) (*models.ForYouResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = s.config.DefaultLimit
	}

	full, err := s.Orchestrated(ctx, models.OrchestratedRequest{
		UserID:       req.UserID,
		TotalLimit:   page*pageSize + pageSize,
		MMRDiversity: req.MMRDiversity,
	})
	if err != nil {
		return nil, err
	}

	start := (page - 1) * pageSize
	end := page * pageSize
	var slice []models.RecommendationItem
	if start < len(full.Recommendations) {
		if end > len(full.Recommendations) {
			end = len(full.Recommendations)
		}
		slice = full.Recommendations[start:end]
	}

	s.enrich(ctx, slice)

	return &models.ForYouResponse{
		UserID:          req.UserID,
		Page:            page,
		PageSize:        pageSize,
		HasMore:         len(full.Recommendations) > page*pageSize,
		Mode:            full.Mode,
		Strategy:        full.Strategy,
		Recommendations: slice,
	}, nil
}

// SimilarToRecent is the HTTP-facing single-source semantic entry point.
func (s *OrchestratorService) SimilarToRecent(ctx context.Context, req models.SimilarToRecentRequest) []models.RecommendationItem {
	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	useMMR := req.UseMMR == nil || *req.UseMMR
	diversity := floatOr(req.MMRDiversity, s.config.MMRDiversity.Default)

	items := s.SimilarToRecentActivity(ctx, req.UserID, limit, useMMR, diversity, req.ExcludeProductIDs)
	s.enrich(ctx, items)
	return items
}

// ComplementaryFor is the HTTP-facing single-source complementary entry point.
func (s *OrchestratorService) ComplementaryFor(ctx context.Context, req models.ComplementaryRequest) []models.RecommendationItem {
	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	items := s.ComplementaryProducts(ctx, req.PurchasedProductID, req.UserID, limit)
	s.enrich(ctx, items)
	return items
}

// Behavioral is the HTTP-facing collaborative entry point.
func (s *OrchestratorService) Behavioral(ctx context.Context, userID int64, limit int) []models.RecommendationItem {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	items := s.BehavioralRecommendations(ctx, userID, limit)
	s.enrich(ctx, items)
	return items
}

// Trending is the HTTP-facing trending entry point.
func (s *OrchestratorService) Trending(ctx context.Context, limit int, eventTypes []string) []models.RecommendationItem {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	items := s.TrendingItems(ctx, limit, eventTypes)
	s.enrich(ctx, items)
	return items
}

// enrich attaches product payloads to items that lack one, in a single batch
// retrieve. Enrichment failure is logged and the items go out bare.
func (s *OrchestratorService) enrich(ctx context.Context, items []models.RecommendationItem) {
	var missing []int64
	for _, item := range items {
		if len(item.Payload) == 0 {
			missing = append(missing, item.ProductID)
		}
	}
	if len(missing) == 0 {
		return
	}

	points, err := s.vector.Retrieve(ctx, missing, false)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to enrich recommendations with payloads")
		return
	}

	payloads := make(map[int64]map[string]interface{}, len(points))
	for _, p := range points {
		payloads[p.ID] = p.Payload
	}
	for i := range items {
		if len(items[i].Payload) == 0 {
			if payload, ok := payloads[items[i].ProductID]; ok {
				items[i].Payload = payload
			}
		}
	}
}

func (s *OrchestratorService) cacheGet(ctx context.Context, key string) *models.OrchestratedResponse {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var resp models.OrchestratedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	return &resp
}

func (s *OrchestratorService) cacheSet(ctx context.Context, key string, resp *models.OrchestratedResponse) {
	if s.redis == nil || s.config.CacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, data, s.config.CacheTTL).Err(); err != nil {
		s.logger.WithError(err).Debug("Failed to cache orchestrated response")
	}
}

// allocateBudgets splits totalLimit by weight. Behavioral and trending take
// their floors; activity absorbs the rounding residue.
func allocateBudgets(behavioralWeight, trendingWeight, activityWeight float64, totalLimit int) (behavioral, trending, activity int) {
	totalWeight := behavioralWeight + trendingWeight + activityWeight
	if totalWeight <= 0 {
		return 0, 0, totalLimit
	}
	behavioral = int(behavioralWeight / totalWeight * float64(totalLimit))
	trending = int(trendingWeight / totalWeight * float64(totalLimit))
	activity = totalLimit - behavioral - trending
	return behavioral, trending, activity
}

// dedupeKeepBest keeps the first occurrence of each product id, upgrading it
// in place when a later duplicate scores strictly higher.
func dedupeKeepBest(items []models.RecommendationItem) []models.RecommendationItem {
	indexOf := make(map[int64]int, len(items))
	unique := make([]models.RecommendationItem, 0, len(items))
	for _, item := range items {
		if idx, ok := indexOf[item.ProductID]; ok {
			if item.Score > unique[idx].Score {
				unique[idx] = item
			}
			continue
		}
		indexOf[item.ProductID] = len(unique)
		unique = append(unique, item)
	}
	return unique
}

// StrategyDescription is the user-facing explanation of each mode's blend.
func StrategyDescription(mode models.RecommendationMode) string {
	switch mode {
	case models.ModeBrowsing:
		return "Exploring mode: Using semantic search with high diversity " +
			"to show varied options similar to your recent activity, " +
			"combined with behavioral insights and trending items."
	case models.ModePostPurchase:
		return "Post-purchase mode: Showing complementary products that " +
			"other buyers paired with your recent purchase, along with " +
			"personalized behavioral recommendations."
	case models.ModeColdStart:
		return "New user mode: Showing popular and trending products " +
			"to help you discover items while we learn your preferences."
	default:
		return "Personalized recommendations"
	}
}

func floatOr(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}
