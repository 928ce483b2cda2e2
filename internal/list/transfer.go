package list

import (
	"context"
	"errors"
	"fmt"

	"requestx/pkg/rulespec"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// 导出文件的信封字段
const (
	ExportProvider = "Request X"
	ExportCategory = "lists"
)

var ErrInvalidImport = errors.New("invalid import data")

// Export 导出指定列表，ids 为空时导出全部
func (g *Group) Export(ids ...int) ([]byte, error) {
	all := g.All()
	items := append(all.Request, all.Cookie...)
	if len(ids) > 0 {
		want := make(map[int]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		filtered := items[:0]
		for _, item := range items {
			if want[item.ID] {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode lists: %w", err)
	}
	out, err := sjson.SetBytes([]byte(`{}`), "provider", ExportProvider)
	if err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "category", ExportCategory); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(out, "data", data)
}

// Import 导入列表，接受导出信封、单个列表对象或列表数组；导入的列表总是分配新ID
func (g *Group) Import(ctx context.Context, raw []byte) ([]rulespec.ListData, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidImport
	}
	r := gjson.ParseBytes(raw)
	if r.IsObject() && r.Get("category").Exists() {
		if r.Get("category").String() != ExportCategory {
			return nil, fmt.Errorf("%w: category %q", ErrInvalidImport, r.Get("category").String())
		}
		r = r.Get("data")
	}

	var items []gjson.Result
	switch {
	case r.IsArray():
		items = r.Array()
	case r.IsObject():
		items = []gjson.Result{r}
	default:
		return nil, ErrInvalidImport
	}

	decoded := make([]rulespec.ListData, 0, len(items))
	for i, item := range items {
		data, err := rulespec.DecodeList([]byte(item.Raw))
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidImport, i, err)
		}
		if !data.Type.Valid() {
			return nil, fmt.Errorf("%w: item %d: %q", ErrInvalidType, i, data.Type)
		}
		decoded = append(decoded, data)
	}

	out := make([]rulespec.ListData, 0, len(decoded))
	for _, data := range decoded {
		saved, err := g.Save(ctx, rulespec.ListPatch{
			Type:         data.Type,
			Name:         &data.Name,
			Enabled:      &data.Enabled,
			SubscribeURL: &data.SubscribeURL,
			LastUpdated:  &data.LastUpdated,
			Rules:        &data.Rules,
		})
		if err != nil {
			return out, err
		}
		out = append(out, saved)
	}
	return out, nil
}
