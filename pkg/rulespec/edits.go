package rulespec

// 编辑项名称前缀
const (
	PrefixRemove   = '!'
	PrefixComment  = '#'
	PrefixRawQuery = '?'
)

// HeaderOp 单条头部编辑
type HeaderOp struct {
	Name   string
	Value  string
	Remove bool
}

// HeaderOps 将头部编辑列表转换为操作序列，跳过 # 注释项
func HeaderOps(items []KeyValue) []HeaderOp {
	var ops []HeaderOp
	for _, item := range items {
		if item.Name == "" || item.Name[0] == PrefixComment {
			continue
		}
		if item.Name[0] == PrefixRemove {
			ops = append(ops, HeaderOp{Name: item.Name[1:], Remove: true})
			continue
		}
		ops = append(ops, HeaderOp{Name: item.Name, Value: item.Value})
	}
	return ops
}

// QueryEdit 查询串编辑；Raw 非 nil 时整体替换查询串
type QueryEdit struct {
	Raw    *string
	Set    []KeyValue
	Remove []string
}

// Empty 是否没有任何编辑
func (q QueryEdit) Empty() bool { return q.Raw == nil && len(q.Set) == 0 && len(q.Remove) == 0 }

// ParseQueryEdit 解析查询参数编辑：
// 首项以 ? 开头时整体替换为该项，首项为 ! 时清空，否则逐项设置或以 ! 前缀删除
func ParseQueryEdit(items []KeyValue) QueryEdit {
	var q QueryEdit
	if len(items) == 0 {
		return q
	}
	first := items[0].Name
	switch {
	case first != "" && first[0] == PrefixRawQuery:
		q.Raw = Ptr(first)
		return q
	case first == string(PrefixRemove):
		q.Raw = Ptr("")
		return q
	}
	for _, item := range items {
		if item.Name == "" || item.Name[0] == PrefixComment {
			continue
		}
		if item.Name[0] == PrefixRemove {
			q.Remove = append(q.Remove, item.Name[1:])
		} else {
			q.Set = append(q.Set, item)
		}
	}
	return q
}
