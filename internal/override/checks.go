package override

import "sort"

// ManualChecksKey reportData 中人工覆盖表的字段名
const ManualChecksKey = "manualChecks"

// Checks 人工覆盖表。key 不存在表示使用计算值
type Checks map[string]bool

// FromReportData 从 reportData.manualChecks 读取覆盖表，非布尔值忽略
func FromReportData(data map[string]interface{}) Checks {
	checks := Checks{}
	raw, ok := data[ManualChecksKey].(map[string]interface{})
	if !ok {
		return checks
	}
	for k, v := range raw {
		if b, ok := v.(bool); ok {
			checks[k] = b
		}
	}
	return checks
}

// Toggle 未设置 -> true -> false -> 未设置，返回切换后的状态
func (c Checks) Toggle(key string) (value bool, set bool) {
	current, ok := c[key]
	switch {
	case !ok:
		c[key] = true
		return true, true
	case current:
		c[key] = false
		return false, true
	default:
		delete(c, key)
		return false, false
	}
}

// Resolve 有覆盖时返回覆盖值，否则返回计算值
func (c Checks) Resolve(key string, computed bool) bool {
	if v, ok := c[key]; ok {
		return v
	}
	return computed
}

// State 覆盖值与是否设置
func (c Checks) State(key string) (value bool, set bool) {
	value, set = c[key]
	return
}

func (c Checks) Clone() Checks {
	out := make(Checks, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Keys 按字母序
func (c Checks) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toJSON 空表返回 nil，保存时清空覆盖
func (c Checks) toJSON() map[string]interface{} {
	if len(c) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
