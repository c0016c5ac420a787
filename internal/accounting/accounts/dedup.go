package accounts

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeName folds case and collapses whitespace for duplicate detection.
func NormalizeName(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

func duplicateKey(a Account) string {
	return string(a.Type) + "|" + NormalizeName(a.Name)
}

// DuplicateGroups returns groups of accounts sharing type and normalised name,
// primary first. Groups are ordered by the primary's code.
func DuplicateGroups(accounts []Account) [][]Account {
	canonical := definitionIndex()
	buckets := make(map[string][]Account)
	for _, acc := range accounts {
		key := duplicateKey(acc)
		buckets[key] = append(buckets[key], acc)
	}
	groups := make([][]Account, 0)
	for _, members := range buckets {
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return preferPrimary(members[i], members[j], canonical)
		})
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool {
		return CompareCodes(groups[i][0].Code, groups[j][0].Code) < 0
	})
	return groups
}

// preferPrimary orders system accounts, then canonical chart codes, then the
// lowest code, then the oldest row.
func preferPrimary(a, b Account, canonical map[string]Definition) bool {
	if a.IsSystem != b.IsSystem {
		return a.IsSystem
	}
	_, aCanon := canonical[a.Code]
	_, bCanon := canonical[b.Code]
	if aCanon != bCanon {
		return aCanon
	}
	if c := CompareCodes(a.Code, b.Code); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// CompareCodes orders account codes numerically when both are digit strings.
func CompareCodes(a, b string) int {
	if isDigits(a) && isDigits(b) {
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			if len(ta) < len(tb) {
				return -1
			}
			return 1
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
