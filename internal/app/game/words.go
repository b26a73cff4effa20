package game

import (
	"math/rand"
	"slices"
)

// DefaultWords is the built-in secret word list. Rooms draw from a shuffled
// deck over these so every word appears once before any repeats.
var DefaultWords = []string{
	"tree", "house", "river", "mountain", "phone", "pencil", "laptop",
	"camera", "bridge", "bicycle", "guitar", "pizza", "football", "rocket",
	"car", "elephant", "flower", "sun", "moon", "cloud", "boat", "castle",
	"train", "airplane", "robot", "glasses", "clock", "coffee", "chair",
	"table", "book", "banana", "apple", "shoes", "umbrella", "window",
	"key", "pizza slice", "snowman", "ice cream", "tree house", "volcano",
	"light bulb", "backpack", "telescope", "horse", "lion", "tiger", "owl",
	"cat", "dog", "spider", "road", "candle", "campfire", "cup", "hat",
	"ring", "watch", "map", "star", "planet", "sandcastle", "waterfall",
	"kite", "panda", "snowflake", "flower pot", "drum", "microphone",
	"headphones", "sunglasses", "rainbow", "tree trunk", "chocolate",
	"burger", "diamond", "tower", "pyramid", "paintbrush", "palmtree",
	"fish", "whale", "shark", "submarine", "hot air balloon", "camera lens",
	"mountain peak",
}

// drawNextWord pops the next secret word off the state's shuffled deck.
// An exhausted deck is reshuffled; the reshuffle never places the previously
// drawn word first, so the same word cannot come up twice in a row.
func drawNextWord(state *GameState, words []string, rng *rand.Rand) string {
	if len(words) == 0 {
		return ""
	}

	if len(state.WordBag) == 0 {
		state.WordBag = shuffledDeck(len(words), state.LastWordIndex, rng)
	}

	idx := state.WordBag[0]
	state.WordBag = state.WordBag[1:]
	state.LastWordIndex = idx

	return words[idx]
}

// shuffledDeck returns a permutation of [0, n) whose first element differs
// from avoidFirst whenever n allows it.
func shuffledDeck(n int, avoidFirst int, rng *rand.Rand) []int {
	deck := rng.Perm(n)

	if n > 1 && deck[0] == avoidFirst {
		swap := 1 + rng.Intn(n-1)
		deck[0], deck[swap] = deck[swap], deck[0]
	}

	return deck
}

// nextDrawer rotates deterministically through members in join order, skipping
// players who already drew this cycle. When everyone has drawn, the cycle
// restarts. Returns the chosen drawer and the updated drawn set.
func nextDrawer(order []string, drawn []string) (string, []string) {
	if len(order) == 0 {
		return "", nil
	}

	for _, id := range order {
		if !slices.Contains(drawn, id) {
			return id, append(drawn, id)
		}
	}

	// Everyone drew. Start a fresh cycle with the first member in join order.
	return order[0], []string{order[0]}
}
