package booru

import (
	"fmt"

	"github.com/axxuxy/ax-image/internal/models"
)

type TagType string

const (
	TagTypeGeneral   TagType = "general"
	TagTypeArtist    TagType = "artist"
	TagTypeCopyright TagType = "copyright"
	TagTypeCharacter TagType = "character"
	TagTypeCircle    TagType = "circle"
	TagTypeFaults    TagType = "faults"
)

type UnknownTagTypeError struct {
	Website models.Website
	Code    int
}

func (e *UnknownTagTypeError) Error() string {
	return fmt.Sprintf("unknown tag type %d on %s", e.Code, e.Website)
}

// TagTypeFor maps the numeric tag.json type. Codes 5 and 6 are swapped
// between konachan and yande.
func TagTypeFor(website models.Website, code int) (TagType, error) {
	switch code {
	case 0:
		return TagTypeGeneral, nil
	case 1:
		return TagTypeArtist, nil
	case 3:
		return TagTypeCopyright, nil
	case 4:
		return TagTypeCharacter, nil
	case 5:
		switch website {
		case models.WebsiteKonachan:
			return TagTypeFaults, nil
		case models.WebsiteYande:
			return TagTypeCircle, nil
		}
	case 6:
		switch website {
		case models.WebsiteKonachan:
			return TagTypeCircle, nil
		case models.WebsiteYande:
			return TagTypeFaults, nil
		}
	}
	return "", &UnknownTagTypeError{Website: website, Code: code}
}
