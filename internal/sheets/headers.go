package sheets

import (
	"fmt"
	"strings"

	"github.com/fpang/guest-avatar/internal/guest"
)

// headerAliases maps each record field to the header texts the guest form
// produces. Matching is trimmed and case-insensitive; the field name itself
// is always accepted too.
var headerAliases = map[string][]string{
	guest.FieldTimestamp:          {"時間戳記"},
	guest.FieldName:               {"姓名"},
	guest.FieldRelation:           {"與新人的關係"},
	guest.FieldEmail:              {"Email"},
	guest.FieldBlessingStyle:      {"祝福風格選擇"},
	guest.FieldBlessingSuggestion: {"若想自己寫，請輸入祝福語"},
	guest.FieldPhotoURL:           {"清晰個人照片上傳"},
	guest.FieldAudioURL:           {"上傳語音檔"},
	guest.FieldBlessing:           {},
	guest.FieldVideoURL:           {},
	guest.FieldStatus:             {},
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// headerIndex resolves field names to 0-based column positions. When two
// columns match the same field the first one wins.
func headerIndex(header []string) map[string]int {
	lookup := make(map[string]string)
	for field, aliases := range headerAliases {
		lookup[normalizeHeader(field)] = field
		for _, a := range aliases {
			lookup[normalizeHeader(a)] = field
		}
	}

	index := make(map[string]int)
	for col, h := range header {
		field, ok := lookup[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, seen := index[field]; !seen {
			index[field] = col
		}
	}
	return index
}

// columnLetter converts a 0-based column index to A1 notation letters:
// 0 → A, 25 → Z, 26 → AA.
func columnLetter(col int) string {
	var b []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// quoteSheet quotes a sheet title for use in an A1 range.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func rowToRecord(row int, cells []interface{}, index map[string]int) guest.Record {
	get := func(field string) string {
		col, ok := index[field]
		if !ok || col >= len(cells) || cells[col] == nil {
			return ""
		}
		return strings.TrimSpace(toString(cells[col]))
	}
	return guest.Record{
		Row:                row,
		Timestamp:          get(guest.FieldTimestamp),
		Name:               get(guest.FieldName),
		Relation:           get(guest.FieldRelation),
		Email:              get(guest.FieldEmail),
		BlessingStyle:      get(guest.FieldBlessingStyle),
		BlessingSuggestion: get(guest.FieldBlessingSuggestion),
		PhotoURL:           get(guest.FieldPhotoURL),
		AudioURL:           get(guest.FieldAudioURL),
		Blessing:           get(guest.FieldBlessing),
		VideoURL:           get(guest.FieldVideoURL),
		Status:             get(guest.FieldStatus),
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
