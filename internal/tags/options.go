package tags

import (
	"strings"
	"time"
)

type CommonTag struct {
	Name string `json:"name"`
	Mode Mode   `json:"mode"`
}

// Parent filters by parent post; None selects posts without a parent.
type Parent struct {
	ID   int64
	None bool
}

// Options is the structured search used by the UI and saved history.
type Options struct {
	Tags    []CommonTag
	User    string
	Vote3   string
	MD5     string
	Rating  *Rating
	Source  string
	ID      *RangeOrValue[int64]
	Width   *RangeOrValue[int64]
	Height  *RangeOrValue[int64]
	Score   *RangeOrValue[int64]
	Mpixels *RangeOrValue[int64]
	Date    *RangeOrValue[time.Time]
	Order   *Order
	Parent  *Parent
}

// Format renders the options as a wire query. ok is false when nothing is set.
func Format(opts Options) (string, bool) {
	tokens := make([]string, 0, len(opts.Tags)+13)
	for _, tag := range opts.Tags {
		if tag.Name == "" {
			continue
		}
		tokens = append(tokens, tag.Mode.prefix()+strings.ReplaceAll(tag.Name, " ", "_"))
	}
	if opts.User != "" {
		tokens = append(tokens, "user:"+opts.User)
	}
	if opts.Vote3 != "" {
		tokens = append(tokens, "vote:3:"+opts.Vote3)
	}
	if opts.MD5 != "" {
		tokens = append(tokens, "md5:"+opts.MD5)
	}
	if opts.Rating != nil {
		tokens = append(tokens, opts.Rating.String())
	}
	if opts.Source != "" {
		tokens = append(tokens, "source:"+opts.Source)
	}
	ranges := []struct {
		name  string
		value *RangeOrValue[int64]
	}{
		{"id", opts.ID},
		{"width", opts.Width},
		{"height", opts.Height},
		{"score", opts.Score},
		{"mpixels", opts.Mpixels},
	}
	for _, r := range ranges {
		if r.value != nil {
			tokens = append(tokens, r.name+":"+r.value.String())
		}
	}
	if opts.Date != nil {
		tokens = append(tokens, "date:"+opts.Date.String())
	}
	if opts.Order != nil {
		tokens = append(tokens, "order:"+string(*opts.Order))
	}
	if opts.Parent != nil {
		if opts.Parent.None {
			tokens = append(tokens, NewParentNone().String())
		} else {
			tokens = append(tokens, NewParent(opts.Parent.ID).String())
		}
	}
	if len(tokens) == 0 {
		return "", false
	}
	return strings.Join(tokens, " "), true
}

// Restore rebuilds options from a wire query. Common tags keep token order and
// a repeated singular filter keeps its last occurrence.
func Restore(text string) Options {
	var opts Options
	for _, field := range strings.Fields(text) {
		tag, err := Parse(field)
		if err != nil {
			continue
		}
		opts.apply(tag)
	}
	return opts
}

func (o *Options) apply(tag Tag) {
	switch tag.kind {
	case KindCommon:
		o.Tags = append(o.Tags, CommonTag{Name: tag.text, Mode: tag.mode})
	case KindUser:
		o.User = tag.text
	case KindVote3:
		o.Vote3 = tag.text
	case KindMD5:
		o.MD5 = tag.text
	case KindSource:
		o.Source = tag.text
	case KindID:
		o.ID = ptr(tag.number)
	case KindWidth:
		o.Width = ptr(tag.number)
	case KindHeight:
		o.Height = ptr(tag.number)
	case KindScore:
		o.Score = ptr(tag.number)
	case KindMpixels:
		o.Mpixels = ptr(tag.number)
	case KindDate:
		o.Date = ptr(tag.date)
	case KindRating:
		o.Rating = ptr(tag.rating)
	case KindOrder:
		o.Order = ptr(tag.order)
	case KindParent:
		o.Parent = &Parent{ID: tag.parent}
	case KindParentNone:
		o.Parent = &Parent{None: true}
	}
}

// TagList converts the options into tags in wire order.
func (o Options) TagList() ([]Tag, error) {
	var out []Tag
	add := func(tag Tag, err error) error {
		if err != nil {
			return err
		}
		out = append(out, tag)
		return nil
	}
	for _, common := range o.Tags {
		if err := add(NewCommon(common.Name, common.Mode)); err != nil {
			return nil, err
		}
	}
	if o.User != "" {
		if err := add(NewUser(o.User)); err != nil {
			return nil, err
		}
	}
	if o.Vote3 != "" {
		if err := add(NewVote3(o.Vote3)); err != nil {
			return nil, err
		}
	}
	if o.MD5 != "" {
		if err := add(NewMD5(o.MD5)); err != nil {
			return nil, err
		}
	}
	if o.Rating != nil {
		if err := add(NewRating(*o.Rating)); err != nil {
			return nil, err
		}
	}
	if o.Source != "" {
		if err := add(NewSource(o.Source)); err != nil {
			return nil, err
		}
	}
	if o.ID != nil {
		out = append(out, NewID(*o.ID))
	}
	if o.Width != nil {
		out = append(out, NewWidth(*o.Width))
	}
	if o.Height != nil {
		out = append(out, NewHeight(*o.Height))
	}
	if o.Score != nil {
		out = append(out, NewScore(*o.Score))
	}
	if o.Mpixels != nil {
		out = append(out, NewMpixels(*o.Mpixels))
	}
	if o.Date != nil {
		out = append(out, NewDate(*o.Date))
	}
	if o.Order != nil {
		if err := add(NewOrder(*o.Order)); err != nil {
			return nil, err
		}
	}
	if o.Parent != nil {
		if o.Parent.None {
			out = append(out, NewParentNone())
		} else {
			out = append(out, NewParent(o.Parent.ID))
		}
	}
	return out, nil
}

func ptr[T any](v T) *T {
	return &v
}
