package homepage

import (
	"fmt"
	"sort"

	"github.com/MrSnakeDoc/shelf/internal/domain"
)

// Entry is one importable bookmark.
type Entry struct {
	Category string
	Name     string
	Draft    domain.Draft
}

// Rejected is a YAML bookmark that cannot become a draft.
type Rejected struct {
	Category string
	Name     string
	Err      error
}

// MapDrafts converts a bookmarks config into drafts. The bookmark name is
// the title, falling back to abbr. Entries failing validation are returned
// in rejected; repeated URLs are kept once.
func MapDrafts(config BookmarksConfig) (entries []Entry, rejected []Rejected) {
	seen := make(map[string]struct{})

	for _, category := range config {
		for _, categoryName := range sortedKeys(category) {
			for _, bookmarkMap := range category[categoryName] {
				for _, bookmarkName := range sortedKeys(bookmarkMap) {
					entryList := bookmarkMap[bookmarkName]
					// Each bookmark has a list with a single entry
					if len(entryList) == 0 {
						continue
					}
					entry := entryList[0]

					title := bookmarkName
					if title == "" {
						title = entry.Abbr
					}

					draft, err := domain.NewDraft(title, entry.Href)
					if err != nil {
						rejected = append(rejected, Rejected{Category: categoryName, Name: bookmarkName, Err: err})
						continue
					}
					if _, dup := seen[draft.URL]; dup {
						continue
					}
					seen[draft.URL] = struct{}{}

					entries = append(entries, Entry{Category: categoryName, Name: bookmarkName, Draft: draft})
				}
			}
		}
	}

	return entries, rejected
}

// String renders a rejection for CLI output.
func (r Rejected) String() string {
	return fmt.Sprintf("%s/%s: %v", r.Category, r.Name, r.Err)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
