package matchmaking

import (
	"testing"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/domain"
	"github.com/shopspring/decimal"
)

func testService() *Service {
	cfg := &config.Config{
		Match: config.MatchConfig{
			AllowedDurations: []int64{60, 300, 900},
			AllowedBets:      []float64{10, 50, 100},
		},
	}
	return &Service{cfg: cfg, queues: make(map[queueKey][]*domain.QueueEntry)}
}

func TestValidate_RejectsUnlistedDuration(t *testing.T) {
	s := testService()
	if err := s.validate(61, decimal.NewFromInt(10)); err != domain.ErrInvalidDuration {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestValidate_RejectsUnlistedBet(t *testing.T) {
	s := testService()
	if err := s.validate(300, decimal.NewFromInt(25)); err != domain.ErrInvalidBet {
		t.Fatalf("expected ErrInvalidBet, got %v", err)
	}
}

func TestValidate_AcceptsEnumeratedPair(t *testing.T) {
	s := testService()
	if err := s.validate(900, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestStats_GroupsByDurationAndBetSorted(t *testing.T) {
	s := testService()
	s.queues[keyOf(300, decimal.NewFromInt(50))] = []*domain.QueueEntry{
		{Player: "a", Duration: 300, Bet: decimal.NewFromInt(50)},
		{Player: "b", Duration: 300, Bet: decimal.NewFromInt(50)},
	}
	s.queues[keyOf(60, decimal.NewFromInt(10))] = []*domain.QueueEntry{
		{Player: "c", Duration: 60, Bet: decimal.NewFromInt(10)},
	}

	stats := s.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 queue groups, got %d", len(stats))
	}
	if stats[0].Duration != 60 || stats[0].Waiting != 1 {
		t.Errorf("expected first group duration=60 waiting=1, got %+v", stats[0])
	}
	if stats[1].Duration != 300 || stats[1].Waiting != 2 {
		t.Errorf("expected second group duration=300 waiting=2, got %+v", stats[1])
	}
}
