package position

import "github.com/breakoutlab/tradecore/internal/domain"

// statsTracker accumulates rolling trade statistics over closed positions.
// Callers synchronize access; the Manager updates it under its own lock.
type statsTracker struct {
	total             int
	wins              int
	losses            int
	largestWin        float64
	largestLoss       float64
	consecutiveWins   int
	consecutiveLosses int
	realized          float64
}

// record folds one closed trade's realized profit into the statistics.
// Break-even trades count toward the total but reset neither streak.
func (s *statsTracker) record(profit float64) {
	s.total++
	s.realized += profit

	switch {
	case profit > 0:
		s.wins++
		s.consecutiveWins++
		s.consecutiveLosses = 0
		if profit > s.largestWin {
			s.largestWin = profit
		}
	case profit < 0:
		s.losses++
		s.consecutiveLosses++
		s.consecutiveWins = 0
		if profit < s.largestLoss {
			s.largestLoss = profit
		}
	}
}

func (s *statsTracker) snapshot() domain.TradeStats {
	stats := domain.TradeStats{
		TotalTrades:       s.total,
		Wins:              s.wins,
		Losses:            s.losses,
		LargestWin:        s.largestWin,
		LargestLoss:       s.largestLoss,
		ConsecutiveWins:   s.consecutiveWins,
		ConsecutiveLosses: s.consecutiveLosses,
		RealizedPnL:       s.realized,
	}
	if s.total > 0 {
		stats.WinRate = float64(s.wins) / float64(s.total)
	}
	return stats
}
