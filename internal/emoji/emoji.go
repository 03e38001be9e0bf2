// Package emoji assigns reaction symbols to titles for digest messages.
package emoji

import "sort"

var numbers = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

var extras = []string{
	"🔴", "🟠", "🟡", "🟢", "🔵", "🟣", "🟤", "⚫", "⚪",
	"🍏", "🍎", "🍊", "🍇", "🍓", "🍍", "🍉", "🍌", "🍒", "🍑",
	"🌟", "🔥", "🌈", "🎯", "💫",
}

// Alphabet returns the ordered reaction symbols. The slice is a copy.
func Alphabet() []string {
	out := make([]string, 0, len(numbers)+len(extras))
	out = append(out, numbers...)
	return append(out, extras...)
}

// Capacity is the maximum number of titles a single digest can expose.
func Capacity() int { return len(numbers) + len(extras) }

// Pair binds one reaction symbol to one title.
type Pair struct {
	Emoji string `json:"emoji"`
	Title string `json:"title"`
}

// Mapping is ordered by assignment: the first pair holds the first symbol.
type Mapping []Pair

// Lookup returns the title bound to symbol.
func (m Mapping) Lookup(symbol string) (string, bool) {
	for _, p := range m {
		if p.Emoji == symbol {
			return p.Title, true
		}
	}
	return "", false
}

func (m Mapping) Emojis() []string {
	out := make([]string, len(m))
	for i, p := range m {
		out[i] = p.Emoji
	}
	return out
}

func (m Mapping) Titles() []string {
	out := make([]string, len(m))
	for i, p := range m {
		out[i] = p.Title
	}
	return out
}

// Assign sorts titles and binds them to the alphabet in order. Titles past
// the alphabet size are dropped. The input slice is not modified.
func Assign(titles []string) Mapping {
	sorted := append([]string(nil), titles...)
	sort.Strings(sorted)

	alphabet := Alphabet()
	n := min(len(sorted), len(alphabet))
	out := make(Mapping, n)
	for i := 0; i < n; i++ {
		out[i] = Pair{Emoji: alphabet[i], Title: sorted[i]}
	}
	return out
}
