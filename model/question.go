package model

import "time"

type QuestionStatus string

const (
	QuestionDraft     QuestionStatus = "draft"
	QuestionOpen      QuestionStatus = "open"
	QuestionResolved  QuestionStatus = "resolved"
	QuestionCancelled QuestionStatus = "cancelled"
	QuestionExpired   QuestionStatus = "expired"
)

// Terminal reports whether no further status transitions are allowed.
func (s QuestionStatus) Terminal() bool {
	return s == QuestionResolved || s == QuestionCancelled || s == QuestionExpired
}

// Domain is the topical category of a question.
type Domain string

const (
	DomainStudyingCareer    Domain = "studying_career"
	DomainLocalThings       Domain = "local_things"
	DomainFoodCooking       Domain = "food_cooking"
	DomainPhysicalActivity  Domain = "physical_activity"
	DomainCulture           Domain = "appreciating_culture"
	DomainRandomThoughts    Domain = "random_thoughts"
	DomainSensitivePersonal Domain = "sensitive_personal"
)

// Domains returns every selectable domain, in the order the wizard offers them.
func Domains() []Domain {
	return []Domain{
		DomainStudyingCareer,
		DomainLocalThings,
		DomainFoodCooking,
		DomainPhysicalActivity,
		DomainCulture,
		DomainRandomThoughts,
		DomainSensitivePersonal,
	}
}

func (d Domain) Valid() bool {
	for _, known := range Domains() {
		if d == known {
			return true
		}
	}
	return false
}

// SimilarityTarget says whether the asker wants answerers with domain
// interests similar to their own, different from their own, or does not care.
type SimilarityTarget string

const (
	SimilarDomain     SimilarityTarget = "similar"
	DifferentDomain   SimilarityTarget = "different"
	IndifferentDomain SimilarityTarget = "indifferent"
)

// ClosenessTarget says how socially close the desired answerer should be.
type ClosenessTarget string

const (
	CloserTie      ClosenessTarget = "closer"
	DistantTie     ClosenessTarget = "distant"
	IndifferentTie ClosenessTarget = "indifferent"
)

// ProximityTarget says whether the answerer should be physically nearby.
type ProximityTarget string

const (
	Nearby   ProximityTarget = "nearby"
	Anywhere ProximityTarget = "anywhere"
)

type Question struct {
	ID           string           `firestore:"id"`
	AskerID      string           `firestore:"askerID"`
	Text         string           `firestore:"text"`
	Domain       Domain           `firestore:"domain"`
	Sensitive    bool             `firestore:"sensitive"`
	Similarity   SimilarityTarget `firestore:"similarity"`
	Closeness    ClosenessTarget  `firestore:"closeness"`
	Proximity    ProximityTarget  `firestore:"proximity"`
	Anonymous    bool             `firestore:"anonymous"`
	Status       QuestionStatus   `firestore:"status"`
	CreatedAt    time.Time        `firestore:"createdAt"`
	AnswerIDs    []string         `firestore:"answerIDs"`
	BestAnswerID string           `firestore:"bestAnswerID"`
}

// PreferenceField names one slot of the preference vector collected by the
// question wizard.
type PreferenceField string

const (
	FieldDomain     PreferenceField = "domain"
	FieldSimilarity PreferenceField = "similarity"
	FieldSensitive  PreferenceField = "sensitive"
	FieldCloseness  PreferenceField = "closeness"
	FieldProximity  PreferenceField = "proximity"
	FieldAnonymous  PreferenceField = "anonymous"
)

// ApplyPreference validates value against the field's allowed choices and
// merges it into the draft. An unknown field or value leaves the draft
// untouched and returns ErrInvalidInputShape.
func (q *Question) ApplyPreference(field PreferenceField, value string) error {
	switch field {
	case FieldDomain:
		d := Domain(value)
		if !d.Valid() {
			return ErrInvalidInputShape
		}
		q.Domain = d
	case FieldSimilarity:
		switch SimilarityTarget(value) {
		case SimilarDomain, DifferentDomain, IndifferentDomain:
			q.Similarity = SimilarityTarget(value)
		default:
			return ErrInvalidInputShape
		}
	case FieldCloseness:
		switch ClosenessTarget(value) {
		case CloserTie, DistantTie, IndifferentTie:
			q.Closeness = ClosenessTarget(value)
		default:
			return ErrInvalidInputShape
		}
	case FieldProximity:
		switch ProximityTarget(value) {
		case Nearby, Anywhere:
			q.Proximity = ProximityTarget(value)
		default:
			return ErrInvalidInputShape
		}
	case FieldSensitive:
		b, err := parseYesNo(value)
		if err != nil {
			return err
		}
		q.Sensitive = b
	case FieldAnonymous:
		b, err := parseYesNo(value)
		if err != nil {
			return err
		}
		q.Anonymous = b
	default:
		return ErrInvalidInputShape
	}
	return nil
}

func parseYesNo(value string) (bool, error) {
	switch value {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return false, ErrInvalidInputShape
}
