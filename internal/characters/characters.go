// Package characters holds the static character registry used to resolve
// display names and avatar images for chats.
package characters

const (
	DefaultName  = "AI Assistant"
	DefaultImage = "/images/characters/default.png"
)

type Profile struct {
	ID    int
	Name  string
	Image string
}

// Character is the listing shape returned to API clients.
type Character struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

var registry = map[int]Profile{
	1: {ID: 1, Name: "Beethoven", Image: "/images/characters/beethoven.png"},
	2: {ID: 2, Name: "Caesar", Image: "/images/characters/caesar.png"},
	3: {ID: 3, Name: "Cleopatra", Image: "/images/characters/cleopatra.png"},
	4: {ID: 4, Name: "Hermione", Image: "/images/characters/hermione.png"},
	5: {ID: 5, Name: "Martin", Image: "/images/characters/martin.png"},
	6: {ID: 6, Name: "Newton", Image: "/images/characters/newton.png"},
	7: {ID: 7, Name: "Socrates", Image: "/images/characters/socrates.png"},
	8: {ID: 8, Name: "Spartacus", Image: "/images/characters/spartacus.png"},
	9: {ID: 9, Name: "Voldemort", Image: "/images/characters/voldemort.png"},
}

func Lookup(id int) (Profile, bool) {
	p, ok := registry[id]
	return p, ok
}

// ImageFor resolves the avatar for an optional character id.
func ImageFor(id *int) string {
	if id == nil {
		return DefaultImage
	}
	if p, ok := Lookup(*id); ok {
		return p.Image
	}
	return DefaultImage
}

// DefaultCatalog is served when the upstream character listing is unavailable.
func DefaultCatalog() []Character {
	return []Character{
		{ID: 1, Name: DefaultName, Description: "A general-purpose AI assistant", Image: DefaultImage},
		{ID: 2, Name: "Friendly Companion", Description: "A warm and friendly conversation partner", Image: DefaultImage},
		{ID: 3, Name: "Professional Counselor", Description: "A counselor offering professional advice", Image: DefaultImage},
	}
}
