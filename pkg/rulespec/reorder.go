package rulespec

import "sort"

// Reorder 将选中的行作为连续块移动到目标位置之前（downward 时为之后）
// 选中行保持原有相对顺序；选择为空或目标越界时返回 false
func Reorder[T any](items []T, selection []int, target int, downward bool) ([]T, bool) {
	if len(selection) == 0 || target < 0 || target >= len(items) {
		return nil, false
	}
	sel := make([]int, 0, len(selection))
	picked := make(map[int]bool, len(selection))
	for _, i := range selection {
		if i < 0 || i >= len(items) || picked[i] {
			continue
		}
		picked[i] = true
		sel = append(sel, i)
	}
	if len(sel) == 0 {
		return nil, false
	}
	sort.Ints(sel)

	insertAt := target
	if downward {
		insertAt++
	}
	out := make([]T, 0, len(items))
	block := make([]T, 0, len(sel))
	for _, i := range sel {
		block = append(block, items[i])
	}
	for i := 0; i <= len(items); i++ {
		if i == insertAt {
			out = append(out, block...)
		}
		if i < len(items) && !picked[i] {
			out = append(out, items[i])
		}
	}
	return out, true
}
