package analyzers

import (
	"bufio"
	"embed"
	"strings"
)

//go:embed data/*.txt
var rulesetData embed.FS

// Embedded rule lists, loaded once at init. One entry per line, '#'
// comments. Lists are lower-cased at load; matching is done on lower-cased
// input.
var (
	highRiskTLDs         map[string]bool
	mediumRiskTLDs       map[string]bool
	brandTokens          []string
	suspiciousRegistrars []string
	parkingPhrases       []string
	suspiciousKeywords   []string
	urgencyPhrases       []string
	scarcityPhrases      []string
	authorityPhrases     []string
	emotionalPhrases     []string
	tooGoodPhrases       []string
	socialProofPhrases   []string
	cryptoScamPhrases    []string
	investmentPhrases    []string
	wireTransferPhrases  []string
	verificationPhrases  []string
	takeoverPhrases      []string
	governmentIDPhrases  []string
	misleadingClaims     []string
	shortenerHosts       map[string]bool
	trackerHosts         []string
	paymentProcessors    map[string]bool
	captchaDomains       map[string]bool
	highRiskCountries    map[string]bool
	mediumRiskCountries  map[string]bool
	trustedProviderCIDRs []string
)

func init() {
	highRiskTLDs = loadSet("data/tlds_high_risk.txt")
	mediumRiskTLDs = loadSet("data/tlds_medium_risk.txt")
	brandTokens = loadLines("data/brands.txt")
	suspiciousRegistrars = loadLines("data/registrars_suspicious.txt")
	parkingPhrases = loadLines("data/parking_phrases.txt")
	suspiciousKeywords = loadLines("data/suspicious_keywords.txt")
	urgencyPhrases = loadLines("data/urgency_phrases.txt")
	scarcityPhrases = loadLines("data/scarcity_phrases.txt")
	authorityPhrases = loadLines("data/authority_phrases.txt")
	emotionalPhrases = loadLines("data/emotional_phrases.txt")
	tooGoodPhrases = loadLines("data/too_good_phrases.txt")
	socialProofPhrases = loadLines("data/social_proof_phrases.txt")
	cryptoScamPhrases = loadLines("data/crypto_scam_phrases.txt")
	investmentPhrases = loadLines("data/investment_fraud_phrases.txt")
	wireTransferPhrases = loadLines("data/wire_transfer_phrases.txt")
	verificationPhrases = loadLines("data/verification_scam_phrases.txt")
	takeoverPhrases = loadLines("data/account_takeover_phrases.txt")
	governmentIDPhrases = loadLines("data/government_id_phrases.txt")
	misleadingClaims = loadLines("data/misleading_claims.txt")
	shortenerHosts = loadSet("data/url_shorteners.txt")
	trackerHosts = loadLines("data/trackers.txt")
	paymentProcessors = loadSet("data/payment_processors.txt")
	captchaDomains = loadSet("data/captcha_domains.txt")
	highRiskCountries = loadSet("data/jurisdictions_high_risk.txt")
	mediumRiskCountries = loadSet("data/jurisdictions_medium_risk.txt")
	trustedProviderCIDRs = loadLines("data/trusted_provider_cidrs.txt")
}

// loadLines reads a list file (one entry per line, # comments), lower-cased.
func loadLines(name string) []string {
	f, err := rulesetData.Open(name)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// loadSet reads a list file into a membership set.
func loadSet(name string) map[string]bool {
	set := make(map[string]bool)
	for _, line := range loadLines(name) {
		set[line] = true
	}
	return set
}

// containsAny counts how many phrases appear in text and returns the first
// hits (capped) for finding metadata. text must already be lower-cased.
func containsAny(text string, phrases []string) (count int, hits []string) {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			count++
			if len(hits) < 5 {
				hits = append(hits, p)
			}
		}
	}
	return count, hits
}
