package council

import (
	"testing"

	"github.com/hcwagner/orchestrator/internal/config"
	"github.com/hcwagner/orchestrator/internal/types"
)

func TestExtractRatingParsesStandardForm(t *testing.T) {
	r := extractRating("This looks solid overall.\nRating: 8/10")
	if r == nil || *r != 8 {
		t.Fatalf("expected rating 8, got %v", r)
	}
}

func TestExtractRatingMissingReturnsNil(t *testing.T) {
	if r := extractRating("no rating here"); r != nil {
		t.Fatalf("expected nil, got %v", r)
	}
}

func TestRatingAgreementSingleRatingIsFullAgreement(t *testing.T) {
	if got := ratingAgreement([]float64{7}); got != 1.0 {
		t.Errorf("expected 1.0 for a single rating, got %f", got)
	}
}

func TestRatingAgreementIdenticalRatingsIsFullAgreement(t *testing.T) {
	if got := ratingAgreement([]float64{7, 7, 7}); got != 1.0 {
		t.Errorf("expected 1.0 for identical ratings, got %f", got)
	}
}

func TestRatingAgreementWideSpreadLowersScore(t *testing.T) {
	got := ratingAgreement([]float64{0, 10})
	if got >= 1.0 {
		t.Errorf("expected agreement below 1.0 for maximally spread ratings, got %f", got)
	}
}

func TestAggregatePicksHighestWeightNonErroredMember(t *testing.T) {
	members := []config.CouncilMember{
		{Name: "low", Weight: 0.5},
		{Name: "high", Weight: 2.0},
	}
	responses := []types.CouncilResponse{
		{Member: "low", Text: "low-weight answer"},
		{Member: "high", Text: "high-weight answer"},
	}
	consensus, _, _ := aggregate(members, responses)
	if consensus != "high-weight answer" {
		t.Errorf("expected the higher-weight member's text as consensus, got %q", consensus)
	}
}

func TestAggregateSkipsErroredMembers(t *testing.T) {
	members := []config.CouncilMember{
		{Name: "high", Weight: 2.0},
		{Name: "low", Weight: 0.5},
	}
	responses := []types.CouncilResponse{
		{Member: "high", Error: "timed out"},
		{Member: "low", Text: "fallback answer"},
	}
	consensus, _, _ := aggregate(members, responses)
	if consensus != "fallback answer" {
		t.Errorf("expected the only non-errored member's text, got %q", consensus)
	}
}

func TestAggregateAllMembersErroredReturnsCannedString(t *testing.T) {
	members := []config.CouncilMember{
		{Name: "high", Weight: 2.0},
		{Name: "low", Weight: 0.5},
	}
	responses := []types.CouncilResponse{
		{Member: "high", Error: "timed out"},
		{Member: "low", Error: "connection refused"},
	}
	consensus, avgRating, agreement := aggregate(members, responses)
	if consensus != "all members failed" {
		t.Errorf("expected canned all-failed string, got %q", consensus)
	}
	if avgRating != 0 {
		t.Errorf("expected avgRating 0 when every member errored, got %f", avgRating)
	}
	if agreement < 0 || agreement > 1 {
		t.Errorf("expected agreement in [0,1], got %f", agreement)
	}
}

func TestAggregateNoResponsesReturnsCannedString(t *testing.T) {
	consensus, _, _ := aggregate(nil, nil)
	if consensus != "no responses" {
		t.Errorf("expected canned no-responses string, got %q", consensus)
	}
}

func TestAggregateAverageRatingIsUnweightedMean(t *testing.T) {
	ratingA, ratingB := 7.5, 8.0
	members := []config.CouncilMember{
		{Name: "heavy", Weight: 5.0},
		{Name: "light", Weight: 0.1},
	}
	responses := []types.CouncilResponse{
		{Member: "heavy", Text: "heavy answer", Rating: &ratingA},
		{Member: "light", Text: "light answer", Rating: &ratingB},
	}
	_, avgRating, _ := aggregate(members, responses)
	want := (ratingA + ratingB) / 2
	if avgRating != want {
		t.Errorf("expected unweighted mean %f, got %f (weighting would give a different value)", want, avgRating)
	}
}
