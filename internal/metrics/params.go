package metrics

// CountParams returns the number of numeric elements held in t: one per
// Scalar plus the size of every Array. Labels are not counted.
func CountParams(t *Tree) int {
	total := 0
	t.Range(func(_ string, n Node) bool {
		switch node := n.(type) {
		case *Tree:
			total += CountParams(node)
		case Scalar:
			total++
		case Array:
			total += node.Size()
		}
		return true
	})
	return total
}
