package ocfl

// User identifies the person or agent responsible for a version of an
// object, as recorded in the version's inventory metadata.
type User struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// NewUser returns a User with the given name and address.
func NewUser(name, address string) *User {
	return &User{Name: name, Address: address}
}
