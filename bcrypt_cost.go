//go:build !race

package natours

func passwordHashCost() int {
	return DefaultPasswordCost
}
