package game

import (
	"sort"
	"strings"

	"klasskamp-service/internal/domain"
)

// Rank derives the ranked leaderboard for a set of players: descending by
// score, ties broken by higher correct-answer count, then earliest join,
// then case-insensitive nickname. Nicknames are unique per room, so the
// order is total and every client observes the same ranking.
func Rank(players []*domain.Player) []domain.LeaderboardEntry {
	ordered := make([]*domain.Player, len(players))
	copy(ordered, players)

	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CorrectAnswers != b.CorrectAnswers {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return strings.ToLower(a.Nickname) < strings.ToLower(b.Nickname)
	})

	entries := make([]domain.LeaderboardEntry, len(ordered))
	for i, player := range ordered {
		entries[i] = domain.LeaderboardEntry{
			Rank:           i + 1,
			PlayerID:       player.ID,
			Nickname:       player.Nickname,
			Score:          player.Score,
			CorrectAnswers: player.CorrectAnswers,
			Connected:      player.Connected,
		}
	}
	return entries
}
