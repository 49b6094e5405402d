package announcer

type rankStep struct {
	name string
	min  int64
}

// Ordered from highest threshold down.
var ranks = []rankStep{
	{"Vanquisher", 45000},
	{"Diamond 3", 40800},
	{"Diamond 2", 36600},
	{"Diamond 1", 32400},
	{"Platinum 3", 28400},
	{"Platinum 2", 24400},
	{"Platinum 1", 20400},
	{"Gold 3", 18000},
	{"Gold 2", 15600},
	{"Gold 1", 13200},
	{"Silver 3", 11000},
	{"Silver 2", 8800},
	{"Silver 1", 6600},
	{"Bronze 3", 5400},
	{"Bronze 2", 4200},
	{"Bronze 1", 3000},
	{"Iron 3", 2000},
	{"Iron 2", 1000},
	{"Iron 1", 1},
}

// Rank maps a rating to its ladder rank.
func Rank(rating int64) string {
	for _, r := range ranks {
		if rating >= r.min {
			return r.name
		}
	}
	return "Unranked"
}
