package fanout

// Partition splits ids into consecutive groups of splitSize. The last group
// may be smaller. Concatenating the groups yields ids unchanged.
func Partition(ids []string, splitSize int) ([][]string, error) {
	if splitSize <= 0 {
		return nil, &ConfigError{Field: "split_size", Message: "must be > 0"}
	}
	if len(ids) == 0 {
		return [][]string{}, nil
	}

	groups := make([][]string, 0, (len(ids)+splitSize-1)/splitSize)
	for start := 0; start < len(ids); start += splitSize {
		end := min(start+splitSize, len(ids))
		groups = append(groups, ids[start:end:end])
	}
	return groups, nil
}
