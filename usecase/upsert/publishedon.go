package upsert

import (
	"sort"
	"strings"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/internal/entity"
)

// PublishedOn evaluates the publication rules of d against doc. The result is sorted and never nil.
func PublishedOn(d *entity.Descriptor, doc *domain.Document) []string {
	channels := make(map[string]struct{})
	for _, rule := range d.PublishRules {
		if matchesRule(rule, doc) {
			channels[rule.Channel] = struct{}{}
		}
	}
	out := make([]string, 0, len(channels))
	for c := range channels {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func matchesRule(rule entity.PublishRule, doc *domain.Document) bool {
	if rule.RequireSmgActive && !doc.SmgActive {
		return false
	}
	if len(rule.Sources) > 0 && !containsFold(rule.Sources, doc.SourceValue()) {
		return false
	}
	if len(rule.RequireAnyTag) > 0 && !anyTag(rule.RequireAnyTag, doc.TagIds) {
		return false
	}
	if len(rule.ExcludeAnyTag) > 0 && anyTag(rule.ExcludeAnyTag, doc.TagIds) {
		return false
	}
	return true
}

func anyTag(wanted, have []string) bool {
	for _, id := range have {
		if containsFold(wanted, id) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func unionChannels(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, c := range a {
		set[c] = struct{}{}
	}
	for _, c := range b {
		set[c] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
