package domain

import (
	"math/rand"
	"sort"
)

const (
	// CodeLength is the length of a shareable game code.
	CodeLength = 6
	codeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// FriendlyNames are handed out to players that join without a display name.
var FriendlyNames = []string{
	"Sunshine", "Bubbles", "Rocket", "Cherry", "Panda",
	"Daisy", "Smiley", "Peanut", "Coco", "Muffin",
	"Nibbles", "Pumpkin", "Buddy", "Teddy", "Cookie",
}

// GenerateCode returns a random game code drawn from A-Z0-9.
func GenerateCode(rng *rand.Rand) string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = codeChars[rng.Intn(len(codeChars))]
	}
	return string(b)
}

// RandomFriendlyName picks a display name from FriendlyNames.
func RandomFriendlyName(rng *rand.Rand) string {
	return FriendlyNames[rng.Intn(len(FriendlyNames))]
}

// PickSong chooses one track uniformly from the union of every player's top tracks.
// Returns the placeholder song when nobody linked any tracks.
func PickSong(players map[string]*Player, rng *rand.Rand) Song {
	var pool []Track
	for _, id := range sortedKeys(players) {
		if p := players[id]; p != nil {
			pool = append(pool, p.TopTracks...)
		}
	}
	if len(pool) == 0 {
		return PlaceholderSong()
	}
	return SongFromTrack(pool[rng.Intn(len(pool))])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}

// Without returns a copy of list with every occurrence of id removed.
func Without(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Contains reports whether id is present in list.
func Contains(list []string, id string) bool {
	return indexOf(list, id) >= 0
}
