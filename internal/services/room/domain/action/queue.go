package action

import "sort"

// Merge combines remotely fetched and locally queued commands into one batch
// ordered by SentAt ascending. Commands whose id appears in processed, or more
// than once within the combined batch, are dropped. Ties on SentAt order by id
// so replays produce identical batches.
func Merge(remote, local []Command, processed map[string]struct{}) []Command {
	merged := make([]Command, 0, len(remote)+len(local))
	seen := make(map[string]struct{}, len(remote)+len(local))

	appendNew := func(cmds []Command) {
		for _, cmd := range cmds {
			cmd = cmd.Normalize()
			if cmd.ID == "" {
				continue
			}
			if _, done := processed[cmd.ID]; done {
				continue
			}
			if _, dup := seen[cmd.ID]; dup {
				continue
			}
			seen[cmd.ID] = struct{}{}
			merged = append(merged, cmd)
		}
	}
	appendNew(remote)
	appendNew(local)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].SentAt.Equal(merged[j].SentAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].SentAt.Before(merged[j].SentAt)
	})
	return merged
}
