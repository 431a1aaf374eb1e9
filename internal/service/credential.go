package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	credentialLower   = "abcdefghijklmnopqrstuvwxyz"
	credentialUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	credentialDigits  = "0123456789"
	credentialSymbols = "!@#$%^&*()-_=+[]{}<>?"
)

// GenerateTempPassword returns a random temporary credential of the given
// length. It always contains at least one lowercase letter, one uppercase
// letter, one digit and one symbol, with the positions shuffled so the
// class of the first characters carries no information.
func GenerateTempPassword(length int) (string, error) {
	if length < 4 {
		return "", fmt.Errorf("password length %d too short for character policy", length)
	}

	classes := []string{credentialLower, credentialUpper, credentialDigits, credentialSymbols}
	all := credentialLower + credentialUpper + credentialDigits + credentialSymbols

	chars := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	for len(chars) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	// Fisher-Yates with crypto/rand.
	for i := len(chars) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		chars[i], chars[j] = chars[j], chars[i]
	}

	return string(chars), nil
}

func randomChar(set string) (byte, error) {
	i, err := randomInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}
