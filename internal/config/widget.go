package config

import (
	"fmt"
	"net/url"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

// WidgetOptions are the initialization options of an embedded plan. Nil
// fields are unset and fall through to the next source.
type WidgetOptions struct {
	PlanID      *string `yaml:"planId"`
	KeyID       *string `yaml:"keyId"`
	OwnerID     *int64  `yaml:"ownerId"`
	Mode        *string `yaml:"mode"`
	SessionType *string `yaml:"sessionType"`

	ShowNav          *bool `yaml:"showNav"`
	ShowTitles       *bool `yaml:"showTitles"`
	EditVideo        *bool `yaml:"editVideo"`
	FakePanelsNumber *int  `yaml:"fakePanelsNumber"`
	UseCached        *bool `yaml:"useCached"`
}

// Widget is the resolved configuration.
type Widget struct {
	Session plan.Session

	ShowNav          bool
	ShowTitles       bool
	EditVideo        bool
	FakePanelsNumber int
	UseCached        bool
}

// ResolveWidget merges the three option sources: explicit options win over
// the query string, which wins over the page's data block. The data block
// may be YAML or JSON. nav=false in the query hides navigation whatever the
// other sources say.
func ResolveWidget(explicit WidgetOptions, query url.Values, dataBlock []byte) (Widget, error) {
	var block WidgetOptions
	if len(dataBlock) > 0 {
		if err := yaml.Unmarshal(dataBlock, &block); err != nil {
			return Widget{}, fmt.Errorf("parse widget data block: %w", err)
		}
	}
	fromQuery := optionsFromQuery(query)
	sources := []WidgetOptions{explicit, fromQuery, block}

	w := Widget{
		Session: plan.Session{
			Mode:        firstString(sources, func(o WidgetOptions) *string { return o.Mode }, plan.ModePlan),
			SessionType: firstString(sources, func(o WidgetOptions) *string { return o.SessionType }, ""),
			PlanID:      firstString(sources, func(o WidgetOptions) *string { return o.PlanID }, ""),
			KeyID:       firstString(sources, func(o WidgetOptions) *string { return o.KeyID }, ""),
			Owner:       plan.UnsetOwner,
		},
		ShowNav:    firstBool(sources, func(o WidgetOptions) *bool { return o.ShowNav }, true),
		ShowTitles: firstBool(sources, func(o WidgetOptions) *bool { return o.ShowTitles }, true),
		EditVideo:  firstBool(sources, func(o WidgetOptions) *bool { return o.EditVideo }, false),
		UseCached:  firstBool(sources, func(o WidgetOptions) *bool { return o.UseCached }, false),
	}
	for _, o := range sources {
		if o.OwnerID != nil {
			w.Session.Owner = *o.OwnerID
			break
		}
	}
	for _, o := range sources {
		if o.FakePanelsNumber != nil {
			w.FakePanelsNumber = *o.FakePanelsNumber
			break
		}
	}
	if query.Get("nav") == "false" {
		w.ShowNav = false
	}
	if w.Session.PlanID == "" {
		return Widget{}, fmt.Errorf("widget: planId is required")
	}
	return w, nil
}

// optionsFromQuery reads the query string. Values that do not parse are
// ignored.
func optionsFromQuery(query url.Values) WidgetOptions {
	var o WidgetOptions
	str := func(keys ...string) *string {
		for _, key := range keys {
			if v := query.Get(key); v != "" {
				return &v
			}
		}
		return nil
	}
	boolean := func(key string) *bool {
		v, err := strconv.ParseBool(query.Get(key))
		if err != nil {
			return nil
		}
		return &v
	}

	o.PlanID = str("planId", "plan")
	o.KeyID = str("keyId")
	o.Mode = str("mode")
	o.SessionType = str("sessionType")
	if raw := str("ownerId", "owner"); raw != nil {
		if v, err := strconv.ParseInt(*raw, 10, 64); err == nil {
			o.OwnerID = &v
		}
	}
	if v, err := strconv.Atoi(query.Get("fakePanelsNumber")); err == nil {
		o.FakePanelsNumber = &v
	}
	o.ShowNav = boolean("showNav")
	o.ShowTitles = boolean("showTitles")
	o.EditVideo = boolean("editVideo")
	o.UseCached = boolean("useCached")
	return o
}

func firstString(sources []WidgetOptions, field func(WidgetOptions) *string, fallback string) string {
	for _, o := range sources {
		if v := field(o); v != nil {
			return *v
		}
	}
	return fallback
}

func firstBool(sources []WidgetOptions, field func(WidgetOptions) *bool, fallback bool) bool {
	for _, o := range sources {
		if v := field(o); v != nil {
			return *v
		}
	}
	return fallback
}
