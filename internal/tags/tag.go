package tags

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyTag   = errors.New("tag is empty")
	ErrInvalidTag = errors.New("invalid tag")
	ErrEmptyRange = errors.New("range needs a min or a max")
)

type Kind int

const (
	KindCommon Kind = iota
	KindUser
	KindVote3
	KindMD5
	KindSource
	KindID
	KindWidth
	KindHeight
	KindScore
	KindMpixels
	KindDate
	KindRating
	KindOrder
	KindParent
	KindParentNone
)

var kindNames = map[Kind]string{
	KindCommon:     "common",
	KindUser:       "user",
	KindVote3:      "vote3",
	KindMD5:        "md5",
	KindSource:     "source",
	KindID:         "id",
	KindWidth:      "width",
	KindHeight:     "height",
	KindScore:      "score",
	KindMpixels:    "mpixels",
	KindDate:       "date",
	KindRating:     "rating",
	KindOrder:      "order",
	KindParent:     "parent",
	KindParentNone: "parent",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

type Mode string

const (
	ModeIs  Mode = "is"
	ModeOr  Mode = "or"
	ModeNot Mode = "not"
)

func (m Mode) IsValid() bool {
	return m == ModeIs || m == ModeOr || m == ModeNot
}

func (m Mode) prefix() string {
	switch m {
	case ModeOr:
		return "~"
	case ModeNot:
		return "-"
	default:
		return ""
	}
}

type RatingValue string

const (
	RatingSafe         RatingValue = "s"
	RatingQuestionable RatingValue = "q"
	RatingExplicit     RatingValue = "e"
)

func (v RatingValue) IsValid() bool {
	return v == RatingSafe || v == RatingQuestionable || v == RatingExplicit
}

type RatingMode string

const (
	RatingIs  RatingMode = ""
	RatingNot RatingMode = "-"
)

func (m RatingMode) IsValid() bool {
	return m == RatingIs || m == RatingNot
}

type Rating struct {
	Value RatingValue `json:"value"`
	Mode  RatingMode  `json:"mode"`
}

func (r Rating) String() string {
	return string(r.Mode) + "rating:" + string(r.Value)
}

func (r Rating) validate() error {
	if !r.Value.IsValid() || !r.Mode.IsValid() {
		return fmt.Errorf("%w: rating %q mode %q", ErrInvalidTag, r.Value, r.Mode)
	}
	return nil
}

// ParseRating accepts the token form "rating:s" / "-rating:e".
func ParseRating(raw string) (Rating, bool) {
	mode := RatingIs
	rest := raw
	if strings.HasPrefix(rest, "-") {
		mode = RatingNot
		rest = rest[1:]
	}
	value, ok := strings.CutPrefix(rest, "rating:")
	if !ok {
		return Rating{}, false
	}
	r := Rating{Value: RatingValue(value), Mode: mode}
	if r.validate() != nil {
		return Rating{}, false
	}
	return r, true
}

type Order string

const (
	OrderID         Order = "id"
	OrderIDDesc     Order = "id_desc"
	OrderScore      Order = "score"
	OrderScoreAsc   Order = "score_asc"
	OrderMpixels    Order = "mpixels"
	OrderMpixelsAsc Order = "mpixels_asc"
	OrderLandscape  Order = "landscape"
	OrderPortrait   Order = "portrait"
	OrderVote       Order = "vote"
)

func Orders() []Order {
	return []Order{
		OrderID, OrderIDDesc, OrderScore, OrderScoreAsc, OrderMpixels,
		OrderMpixelsAsc, OrderLandscape, OrderPortrait, OrderVote,
	}
}

func (o Order) IsValid() bool {
	for _, candidate := range Orders() {
		if o == candidate {
			return true
		}
	}
	return false
}

// Tag is one search filter token. The zero value is not a valid tag; use the
// New* constructors or Parse.
type Tag struct {
	kind   Kind
	text   string
	mode   Mode
	number RangeOrValue[int64]
	date   RangeOrValue[time.Time]
	rating Rating
	order  Order
	parent int64
}

func NewCommon(value string, mode Mode) (Tag, error) {
	if value == "" {
		return Tag{}, ErrEmptyTag
	}
	if !mode.IsValid() {
		return Tag{}, fmt.Errorf("%w: mode %q", ErrInvalidTag, mode)
	}
	return Tag{kind: KindCommon, text: value, mode: mode}, nil
}

func NewUser(user string) (Tag, error) {
	return newText(KindUser, user)
}

func NewVote3(vote string) (Tag, error) {
	return newText(KindVote3, vote)
}

func NewMD5(md5 string) (Tag, error) {
	return newText(KindMD5, md5)
}

func NewSource(source string) (Tag, error) {
	return newText(KindSource, source)
}

func newText(kind Kind, value string) (Tag, error) {
	if value == "" {
		return Tag{}, fmt.Errorf("%w: %s", ErrEmptyTag, kind)
	}
	return Tag{kind: kind, text: value}, nil
}

func NewID(v RangeOrValue[int64]) Tag      { return Tag{kind: KindID, number: v} }
func NewWidth(v RangeOrValue[int64]) Tag   { return Tag{kind: KindWidth, number: v} }
func NewHeight(v RangeOrValue[int64]) Tag  { return Tag{kind: KindHeight, number: v} }
func NewScore(v RangeOrValue[int64]) Tag   { return Tag{kind: KindScore, number: v} }
func NewMpixels(v RangeOrValue[int64]) Tag { return Tag{kind: KindMpixels, number: v} }

func NewDate(v RangeOrValue[time.Time]) Tag {
	return Tag{kind: KindDate, date: v}
}

func NewRating(r Rating) (Tag, error) {
	if err := r.validate(); err != nil {
		return Tag{}, err
	}
	return Tag{kind: KindRating, rating: r}, nil
}

func NewOrder(o Order) (Tag, error) {
	if !o.IsValid() {
		return Tag{}, fmt.Errorf("%w: order %q", ErrInvalidTag, o)
	}
	return Tag{kind: KindOrder, order: o}, nil
}

func NewParent(postID int64) Tag {
	return Tag{kind: KindParent, parent: postID}
}

func NewParentNone() Tag {
	return Tag{kind: KindParentNone}
}

func (t Tag) Kind() Kind { return t.kind }

// Text is the payload of common, user, vote3, md5 and source tags.
func (t Tag) Text() string { return t.text }

func (t Tag) Mode() Mode { return t.mode }

func (t Tag) Number() RangeOrValue[int64] { return t.number }

func (t Tag) Date() RangeOrValue[time.Time] { return t.date }

func (t Tag) Rating() Rating { return t.rating }

func (t Tag) Order() Order { return t.order }

func (t Tag) ParentID() int64 { return t.parent }

// String renders the wire token.
func (t Tag) String() string {
	switch t.kind {
	case KindCommon:
		return t.mode.prefix() + strings.ReplaceAll(t.text, " ", "_")
	case KindUser:
		return "user:" + t.text
	case KindVote3:
		return "vote:3:" + t.text
	case KindMD5:
		return "md5:" + t.text
	case KindSource:
		return "source:" + t.text
	case KindID, KindWidth, KindHeight, KindScore, KindMpixels:
		return t.kind.String() + ":" + t.number.String()
	case KindDate:
		return "date:" + t.date.String()
	case KindRating:
		return t.rating.String()
	case KindOrder:
		return "order:" + string(t.order)
	case KindParent:
		return "parent:" + strconv.FormatInt(t.parent, 10)
	case KindParentNone:
		return "parent:none"
	}
	return ""
}

var textPrefixes = []struct {
	prefix string
	kind   Kind
}{
	{"user:", KindUser},
	{"vote:3:", KindVote3},
	{"md5:", KindMD5},
	{"source:", KindSource},
}

var numberPrefixes = []struct {
	prefix string
	kind   Kind
}{
	{"id:", KindID},
	{"width:", KindWidth},
	{"height:", KindHeight},
	{"score:", KindScore},
	{"mpixels:", KindMpixels},
}

// Parse classifies one token by the first matching prefix. A prefix whose
// payload does not parse falls through; anything left is a common tag.
func Parse(text string) (Tag, error) {
	if text == "" {
		return Tag{}, ErrEmptyTag
	}
	for _, p := range textPrefixes {
		if value, ok := strings.CutPrefix(text, p.prefix); ok && value != "" {
			return Tag{kind: p.kind, text: value}, nil
		}
	}
	for _, p := range numberPrefixes {
		if value, ok := strings.CutPrefix(text, p.prefix); ok {
			if r, ok := ParseIntRange(value); ok {
				return Tag{kind: p.kind, number: r}, nil
			}
		}
	}
	if value, ok := strings.CutPrefix(text, "date:"); ok {
		if r, ok := ParseDateRange(value); ok {
			return NewDate(r), nil
		}
	}
	if r, ok := ParseRating(text); ok {
		return Tag{kind: KindRating, rating: r}, nil
	}
	if value, ok := strings.CutPrefix(text, "order:"); ok && Order(value).IsValid() {
		return Tag{kind: KindOrder, order: Order(value)}, nil
	}
	if value, ok := strings.CutPrefix(text, "parent:"); ok {
		if value == "none" {
			return NewParentNone(), nil
		}
		if id, err := strconv.ParseInt(value, 10, 64); err == nil {
			return NewParent(id), nil
		}
	}

	mode := ModeIs
	value := text
	switch {
	case strings.HasPrefix(text, "-") && len(text) > 1:
		mode, value = ModeNot, text[1:]
	case strings.HasPrefix(text, "~") && len(text) > 1:
		mode, value = ModeOr, text[1:]
	}
	return Tag{kind: KindCommon, text: value, mode: mode}, nil
}

// ParseQuery splits a wire query on whitespace and parses every token.
func ParseQuery(text string) ([]Tag, error) {
	fields := strings.Fields(text)
	out := make([]Tag, 0, len(fields))
	for _, field := range fields {
		tag, err := Parse(field)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", field, err)
		}
		out = append(out, tag)
	}
	return out, nil
}

func Join(tags []Tag) string {
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		if s := tag.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func Strings(tags []Tag) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag.String())
	}
	return out
}

func HasKind(tags []Tag, kind Kind) bool {
	for _, tag := range tags {
		if tag.kind == kind {
			return true
		}
	}
	return false
}
