package manifest

// DetectCycle walks include edges depth-first from start. It returns the first
// cycle found as a path that begins and ends with the same id, or nil.
func DetectCycle(start string, edges func(id string) []string) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var stack []string

	var walk func(id string) []string
	walk = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, next := range edges(id) {
			switch state[next] {
			case visiting:
				for i, s := range stack {
					if s == next {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, next)
					}
				}
			case unvisited:
				if cycle := walk(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}
	return walk(start)
}
