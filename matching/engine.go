// Package matching scores community members against an open question's
// preference vector and selects whom to notify.
package matching

import (
	"context"
	"math"
	"sort"

	"AskBot/model"
	"AskBot/repo"
)

// Scorer rates a candidate for a question. Implementations are pluggable so
// the scoring strategy can be replaced without touching selection.
type Scorer interface {
	Score(question *model.Question, asker, candidate *model.User) float64
}

// WeightedScorer is the default strategy. It combines domain-interest
// similarity, social closeness and zone proximity, each oriented by the
// corresponding preference target. The weights are placeholders pending
// tuning against real usage.
type WeightedScorer struct {
	DomainWeight    float64
	ClosenessWeight float64
	ProximityWeight float64
}

func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{
		DomainWeight:    0.5,
		ClosenessWeight: 0.3,
		ProximityWeight: 0.2,
	}
}

func (s *WeightedScorer) Score(question *model.Question, asker, candidate *model.User) float64 {
	var score, weight float64

	switch question.Similarity {
	case model.SimilarDomain:
		score += s.DomainWeight * domainSimilarity(asker, candidate)
		weight += s.DomainWeight
	case model.DifferentDomain:
		score += s.DomainWeight * (1 - domainSimilarity(asker, candidate))
		weight += s.DomainWeight
	}

	switch question.Closeness {
	case model.CloserTie:
		score += s.ClosenessWeight * closeness(asker, candidate)
		weight += s.ClosenessWeight
	case model.DistantTie:
		score += s.ClosenessWeight * (1 - closeness(asker, candidate))
		weight += s.ClosenessWeight
	}

	if question.Proximity == model.Nearby {
		if asker.Zone != "" && asker.Zone == candidate.Zone {
			score += s.ProximityWeight
		}
		weight += s.ProximityWeight
	}

	if weight == 0 {
		// Fully indifferent preference vector: every candidate is equally
		// acceptable, at a neutral baseline.
		return 0.5
	}
	return score / weight
}

// domainSimilarity is the cosine similarity of the two users' domain
// interest vectors, in [0,1]. Users without interests score 0.
func domainSimilarity(a, b *model.User) float64 {
	var dot, normA, normB float64
	for domain, wa := range a.DomainInterests {
		normA += wa * wa
		if wb, ok := b.DomainInterests[domain]; ok {
			dot += wa * wb
		}
	}
	for _, wb := range b.DomainInterests {
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// closeness is the asker's recorded social tie to the candidate, in [0,1].
func closeness(asker, candidate *model.User) float64 {
	if asker.SocialTies == nil {
		return 0
	}
	return asker.SocialTies[candidate.ID]
}

const (
	defaultTopK     = 5
	defaultMinScore = 0.25
)

// Engine selects the candidates to notify for an open question.
type Engine struct {
	store  repo.Store
	scorer Scorer

	// TopK bounds how many candidates a single selection returns; MinScore
	// is the eligibility threshold. Both are placeholder defaults.
	TopK     int
	MinScore float64
}

func New(store repo.Store, scorer Scorer) *Engine {
	return &Engine{
		store:    store,
		scorer:   scorer,
		TopK:     defaultTopK,
		MinScore: defaultMinScore,
	}
}

type scored struct {
	user  *model.User
	score float64
}

// Select returns up to TopK candidates for the question, best first. The
// asker, anyone already holding a delivery for this question, and anyone in
// exclude are never returned. ErrNoCandidates when nobody qualifies.
func (e *Engine) Select(ctx context.Context, question *model.Question, exclude map[string]bool) ([]*model.User, error) {
	asker, err := e.store.GetUser(ctx, question.AskerID)
	if err != nil {
		return nil, err
	}
	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	deliveries, err := e.store.ListDeliveriesByQuestion(ctx, question.ID)
	if err != nil {
		return nil, err
	}

	notified := make(map[string]bool, len(deliveries))
	for _, delivery := range deliveries {
		notified[delivery.CandidateID] = true
	}

	var candidates []scored
	for _, user := range users {
		if user.ID == question.AskerID || notified[user.ID] || exclude[user.ID] {
			continue
		}
		score := e.scorer.Score(question, asker, user)
		if score < e.MinScore {
			continue
		}
		candidates = append(candidates, scored{user: user, score: score})
	}
	if len(candidates) == 0 {
		return nil, model.ErrNoCandidates
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].user.ID < candidates[j].user.ID
	})
	if len(candidates) > e.TopK {
		candidates = candidates[:e.TopK]
	}

	selected := make([]*model.User, len(candidates))
	for i, candidate := range candidates {
		selected[i] = candidate.user
	}
	return selected, nil
}
