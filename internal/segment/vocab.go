package segment

import "strings"

// Static vocabularies backing the fuzzy line classification and query keyword
// extraction. These are immutable lookup tables; evolving them must not
// require touching callers.

// exclusionKeywords mark a line as a disqualifying clause. Checked first.
var exclusionKeywords = []string{
	"excluded",
	"exclusion",
	"not applicable",
	"does not apply",
	"not eligible",
	"ineligible",
	"not provided",
	"not available",
	"not included",
	"no discount",
	"no rewards",
	"cannot be used",
	"cannot be combined",
}

// conditionUnits are the numeric unit tokens a condition line must carry.
var conditionUnits = []string{
	"won",
	"krw",
	"$",
	"%",
	"/month",
	"/year",
	"/day",
	"per month",
	"per year",
	"per day",
	"per transaction",
	"times",
}

// conditionKeywords strongly suggest a constraint rather than a benefit claim.
// A generic number+unit alone (e.g. "10% discount") stays core.
var conditionKeywords = []string{
	"previous month",
	"prior month",
	"qualifying spend",
	"spend requirement",
	"minimum spend",
	"limit",
	"cap",
	"capped",
	"combined",
	"per transaction",
	"per purchase",
	"period",
	"basis",
	"approval",
	"registration required",
	"upon registration",
	"when registered",
	"monthly maximum",
	"daily maximum",
	"annual total",
}

// milesVocab .. pointVocab drive benefit type detection, highest priority first.
var (
	milesVocab    = []string{"mile", "mileage", "airline", "airfare"}
	cashbackVocab = []string{"cashback", "cash back"}
	discountVocab = []string{"discount", "%"}
	pointVocab    = []string{"point", "reward", "accrual", "earn"}
)

// categorySlugs maps ingestion category labels to standard slugs. Labels not
// present here fall back to a lowercase slug when ASCII, else empty; a wrong
// guess would silently misroute filtering, so empty is the safe degrade.
var categorySlugs = map[string]string{
	"grocery":              "grocery",
	"supermarket":          "grocery",
	"hypermarket":          "grocery",
	"convenience store":    "convenience",
	"convenience":          "convenience",
	"cafe":                 "cafe",
	"coffee":               "cafe",
	"simple payment":       "digital_payment",
	"easy payment":         "digital_payment",
	"digital payment":      "digital_payment",
	"mobile payment":       "digital_payment",
	"digital subscription": "subscription_video",
	"video streaming":      "subscription_video",
	"streaming":            "subscription_video",
	"public transit":       "transit",
	"transit":              "transit",
	"transportation":       "transit",
	"fuel":                 "fuel",
	"gas station":          "fuel",
	"delivery app":         "delivery_app",
	"food delivery":        "delivery_app",
	"online shopping":      "online_shopping",
	"e-commerce":           "online_shopping",
}

// notesLabels are the category labels whose entry is the caveats block,
// handled separately from ordinary benefit entries.
var notesLabels = map[string]struct{}{
	"notes":    {},
	"caveats":  {},
	"warnings": {},
}

// queryCategoryKeywords maps query phrasing to category slugs for the
// aggregation priority and coverage bonus.
var queryCategoryKeywords = map[string]string{
	"grocery":         "grocery",
	"groceries":       "grocery",
	"supermarket":     "grocery",
	"mart":            "grocery",
	"convenience":     "convenience",
	"cafe":            "cafe",
	"coffee":          "cafe",
	"simple payment":  "digital_payment",
	"easy payment":    "digital_payment",
	"digital payment": "digital_payment",
	"mobile payment":  "digital_payment",
	"naverpay":        "digital_payment",
	"kakaopay":        "digital_payment",
	"subscription":    "subscription_video",
	"netflix":         "subscription_video",
	"youtube":         "subscription_video",
	"ott":             "subscription_video",
	"streaming":       "subscription_video",
	"fuel":            "fuel",
	"gas station":     "fuel",
	"delivery":        "delivery_app",
	"transit":         "transit",
	"bus":             "transit",
	"subway":          "transit",
	"online shopping": "online_shopping",
}

// queryVetoKeywords is the fixed vocabulary matched against exclusion chunks.
// A product whose fine print names a use case the user stated is rejected
// outright; similarity search cannot catch this.
var queryVetoKeywords = []string{
	"tax",
	"utility",
	"utilities",
	"insurance",
	"tuition",
	"rent",
	"gift card",
	"prepaid top-up",
	"lottery",
	"interest",
	"installment",
	"overseas",
	"cash advance",
}

// ExtractQueryCategories returns the standard category slugs mentioned in the
// query text, for priority ordering and the coverage bonus.
func ExtractQueryCategories(query string) map[string]struct{} {
	out := make(map[string]struct{})
	q := strings.ToLower(query)
	for kw, slug := range queryCategoryKeywords {
		if strings.Contains(q, kw) {
			out[slug] = struct{}{}
		}
	}
	return out
}

// ExtractQueryKeywords returns the veto-vocabulary keywords present in the
// query text, matched verbatim against exclusion chunk text later.
func ExtractQueryKeywords(query string) []string {
	var out []string
	q := strings.ToLower(query)
	for _, kw := range queryVetoKeywords {
		if strings.Contains(q, kw) {
			out = append(out, kw)
		}
	}
	return out
}
