package session

// Prune bounds history to at most maxLen steps. The first step is the
// durable anchor (the persona / system context) and always survives;
// the remainder is filled with the most recent maxLen-1 steps, dropping
// everything in between.
//
// If history already fits, it is returned unchanged. If maxLen <= 1,
// only the anchor step remains. Pure function: the input slice is
// never mutated.
func Prune(history []Step, maxLen int) []Step {
	if len(history) == 0 {
		return history
	}
	if maxLen <= 1 {
		return history[0:1]
	}
	if len(history) <= maxLen {
		return history
	}

	pruned := make([]Step, 0, maxLen)
	pruned = append(pruned, history[0])
	pruned = append(pruned, history[len(history)-(maxLen-1):]...)
	return pruned
}
