// Package purpose holds the static catalog of recognized data-usage purposes.
//
// The catalog is a pure lookup table: unknown codes pass through verbatim but
// unlabeled, so upstream systems can introduce purposes ahead of this console
// without breaking ingestion.
package purpose

// Purpose describes a recognized data-usage purpose.
type Purpose struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

var catalog = []Purpose{
	{Value: "verification", Label: "Identity Verification", Description: "Confirm the identity of a data subject against vault records."},
	{Value: "analysis", Label: "Data Analysis", Description: "Aggregate or statistical analysis over vault fields."},
	{Value: "marketing", Label: "Marketing", Description: "Direct marketing and campaign targeting."},
	{Value: "fraud-detection", Label: "Fraud Detection", Description: "Detect and investigate fraudulent activity."},
	{Value: "service-improvement", Label: "Service Improvement", Description: "Improve product features and reliability."},
	{Value: "legal-compliance", Label: "Legal Compliance", Description: "Satisfy statutory or regulatory obligations."},
}

var byValue = func() map[string]Purpose {
	m := make(map[string]Purpose, len(catalog))
	for _, p := range catalog {
		m[p.Value] = p
	}
	return m
}()

// All returns the catalog in its stable declaration order.
func All() []Purpose {
	out := make([]Purpose, len(catalog))
	copy(out, catalog)
	return out
}

// Label returns the human label for a purpose code, or the code unchanged when
// it is not in the catalog. Never errors.
func Label(code string) string {
	if p, ok := byValue[code]; ok {
		return p.Label
	}
	return code
}

// Description returns the description for a purpose code, or "" when unknown.
func Description(code string) string {
	if p, ok := byValue[code]; ok {
		return p.Description
	}
	return ""
}

// Known reports whether a purpose code is in the catalog.
func Known(code string) bool {
	_, ok := byValue[code]
	return ok
}
