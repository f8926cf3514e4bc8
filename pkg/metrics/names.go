package metrics

import "strings"

// MetricPrefix namespaces every instrument this package registers.
const MetricPrefix = "flowforge_"

// MetricName normalizes name into a prefixed, OTel/Prometheus-safe
// identifier: lowercased, with separators collapsed to underscores.
func MetricName(name string) string {
	clean := strings.TrimSpace(name)
	clean = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '/', ':':
			return '_'
		default:
			return r
		}
	}, clean)
	clean = strings.ToLower(clean)
	if clean == "" {
		return MetricPrefix
	}
	if strings.HasPrefix(clean, MetricPrefix) {
		return clean
	}
	return MetricPrefix + clean
}

// MetricNameWithSubsystem returns flowforge_<subsystem>_<name>, both
// normalized the same way as MetricName.
func MetricNameWithSubsystem(subsystem, name string) string {
	subsystem = strings.Trim(strings.ToLower(strings.ReplaceAll(strings.TrimSpace(subsystem), " ", "_")), "_")
	base := strings.Trim(strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_")), "_")
	switch {
	case subsystem != "" && base != "":
		base = subsystem + "_" + base
	case subsystem != "":
		base = subsystem
	}
	return MetricName(base)
}
