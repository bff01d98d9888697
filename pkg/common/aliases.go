package common

import (
	"regexp"
	"slices"
	"strings"
)

type companyAlias struct {
	name   string
	ticker string
	// ambiguous names double as ordinary words and only count inside a
	// relationship phrase.
	ambiguous bool
}

var companyAliases = []companyAlias{
	{name: "Apple", ticker: "AAPL"},
	{name: "Microsoft", ticker: "MSFT"},
	{name: "Google", ticker: "GOOGL"},
	{name: "Alphabet", ticker: "GOOGL"},
	{name: "Amazon", ticker: "AMZN"},
	{name: "Meta", ticker: "META", ambiguous: true},
	{name: "Facebook", ticker: "META"},
	{name: "NVIDIA", ticker: "NVDA"},
	{name: "Tesla", ticker: "TSLA"},
	{name: "TSMC", ticker: "TSM"},
	{name: "Taiwan Semiconductor", ticker: "TSM"},
	{name: "Broadcom", ticker: "AVGO"},
	{name: "Qualcomm", ticker: "QCOM"},
	{name: "Intel", ticker: "INTC"},
	{name: "AMD", ticker: "AMD"},
	{name: "Advanced Micro Devices", ticker: "AMD"},
	{name: "Micron", ticker: "MU"},
	{name: "Texas Instruments", ticker: "TXN"},
	{name: "JPMorgan", ticker: "JPM"},
	{name: "Goldman Sachs", ticker: "GS"},
	{name: "Morgan Stanley", ticker: "MS"},
	{name: "Bank of America", ticker: "BAC"},
	{name: "Wells Fargo", ticker: "WFC"},
	{name: "Visa", ticker: "V", ambiguous: true},
	{name: "Mastercard", ticker: "MA"},
	{name: "American Express", ticker: "AXP"},
	{name: "PayPal", ticker: "PYPL"},
	{name: "Johnson & Johnson", ticker: "JNJ"},
	{name: "Pfizer", ticker: "PFE"},
	{name: "Merck", ticker: "MRK"},
	{name: "AbbVie", ticker: "ABBV"},
	{name: "Bristol-Myers", ticker: "BMY"},
	{name: "UnitedHealth", ticker: "UNH"},
	{name: "CVS", ticker: "CVS"},
	{name: "Cigna", ticker: "CI"},
	{name: "Elevance", ticker: "ELV"},
	{name: "Anthem", ticker: "ELV"},
	{name: "Humana", ticker: "HUM"},
	{name: "Walmart", ticker: "WMT"},
	{name: "Target", ticker: "TGT", ambiguous: true},
	{name: "Costco", ticker: "COST"},
	{name: "Home Depot", ticker: "HD"},
	{name: "Coca-Cola", ticker: "KO"},
	{name: "PepsiCo", ticker: "PEP"},
	{name: "McDonald's", ticker: "MCD"},
	{name: "Starbucks", ticker: "SBUX"},
	{name: "Nike", ticker: "NKE"},
	{name: "Disney", ticker: "DIS"},
	{name: "ExxonMobil", ticker: "XOM"},
	{name: "Exxon Mobil", ticker: "XOM"},
	{name: "Chevron", ticker: "CVX"},
	{name: "ConocoPhillips", ticker: "COP"},
	{name: "Shell", ticker: "SHEL", ambiguous: true},
	{name: "BP", ticker: "BP"},
	{name: "AT&T", ticker: "T"},
	{name: "Verizon", ticker: "VZ"},
	{name: "T-Mobile", ticker: "TMUS"},
	{name: "Comcast", ticker: "CMCSA"},
	{name: "Charter", ticker: "CHTR", ambiguous: true},
	{name: "Boeing", ticker: "BA"},
	{name: "Lockheed Martin", ticker: "LMT"},
	{name: "Raytheon", ticker: "RTX"},
	{name: "General Dynamics", ticker: "GD"},
	{name: "Northrop Grumman", ticker: "NOC"},
	{name: "Caterpillar", ticker: "CAT"},
	{name: "Deere", ticker: "DE"},
	{name: "3M", ticker: "MMM"},
	{name: "Honeywell", ticker: "HON"},
	{name: "General Electric", ticker: "GE"},
	{name: "Oracle", ticker: "ORCL"},
	{name: "Salesforce", ticker: "CRM"},
	{name: "Adobe", ticker: "ADBE"},
	{name: "SAP", ticker: "SAP"},
	{name: "ServiceNow", ticker: "NOW"},
	{name: "Intuit", ticker: "INTU"},
}

var (
	aliasByName = func() map[string]string {
		m := make(map[string]string, len(companyAliases))
		for _, a := range companyAliases {
			m[strings.ToLower(a.name)] = a.ticker
		}
		return m
	}()
	// mentionStrict matches unambiguous names in their canonical casing.
	mentionStrict = compileAliases(false)
	// mentionLoose matches every name regardless of case.
	mentionLoose = compileAliases(true)

	corporateSuffix = regexp.MustCompile(`(?i)[\s,]+(?:inc|corp|corporation|llc|ltd|company|co|plc)\.?$`)
)

func compileAliases(loose bool) *regexp.Regexp {
	names := make([]string, 0, len(companyAliases))
	for _, a := range companyAliases {
		if a.ambiguous && !loose {
			continue
		}
		names = append(names, regexp.QuoteMeta(a.name))
	}
	// longest first so "Taiwan Semiconductor" wins over shorter prefixes
	slices.SortFunc(names, func(a, b string) int { return len(b) - len(a) })
	expr := `\b(` + strings.Join(names, "|") + `)\b`
	if loose {
		expr = `(?i)` + expr
	}
	return regexp.MustCompile(expr)
}

// TickerForCompany maps a company name such as "Apple Inc." to its ticker.
func TickerForCompany(name string) (string, bool) {
	n := strings.TrimSpace(name)
	n = corporateSuffix.ReplaceAllString(n, "")
	n = strings.Trim(n, " .,")
	t, ok := aliasByName[strings.ToLower(n)]
	return t, ok
}

// FindCompanies returns the tickers of known companies named in text, in
// order of first appearance and without duplicates. In strict mode only
// unambiguous names in their canonical casing count.
func FindCompanies(text string, strict bool) []string {
	re := mentionLoose
	if strict {
		re = mentionStrict
	}
	var out []string
	for _, m := range re.FindAllString(text, -1) {
		t, ok := aliasByName[strings.ToLower(m)]
		if ok && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
