package server

import "github.com/Pallinder/go-randomdata"

// NameGenerator produces a display name for a newly registered client.
type NameGenerator func() string

// RandomFullName returns a random "First Last" name.
func RandomFullName() string {
	return randomdata.FullName(randomdata.RandomGender)
}
