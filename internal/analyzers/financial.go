package analyzers

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	paymentFieldRE = regexp.MustCompile(`(?i)<input[^>]+name\s*=\s*["']?[a-z_\-]*(card|cc[_\-]?num|cvv|cvc|expiry|exp[_\-]?(month|year)|iban)`)
	btcAddressRE   = regexp.MustCompile(`\b(bc1[a-z0-9]{25,62}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`)
	ethAddressRE   = regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`)
	processorRefRE = regexp.MustCompile(`(?i)(?:src|href|action)\s*=\s*["']?https?://([^/"'\s>]+)`)
	payLogoRE      = regexp.MustCompile(`(?i)<img[^>]+(?:src|alt)\s*=\s*["'][^"']*(paypal|stripe|visa|mastercard|amex|klarna)`)

	processorBrands = []string{"paypal", "stripe", "klarna", "adyen", "square", "razorpay"}
)

// Financial scores payment fraud signals: card forms without transport or
// processor backing, crypto bait and money-mule payment rails.
func Financial() *Analyzer {
	return &Analyzer{
		ID:        "financial",
		Name:      "Financial Fraud",
		States:    onlineStates,
		NeedsBody: true,
		run:       runFinancial,
	}
}

func runFinancial(c *checker, ctx *Context) {
	body := ctx.BodyText()
	lower := strings.ToLower(body)
	hasPaymentFields := paymentFieldRE.MatchString(body)

	if hasPaymentFields && ctx.Target.Scheme == "http" {
		c.flag("payment_over_http", SeverityCritical, "Payment fields served over HTTP",
			"card data would be submitted without transport encryption", 10, nil)
	} else {
		c.pass()
	}

	if hasPaymentFields && !referencesKnownProcessor(body) {
		c.flag("payment_no_processor", SeverityMedium, "Payment form without a recognized processor",
			"card inputs present but no known payment provider is referenced", 6, nil)
	} else {
		c.pass()
	}

	cryptoPhrases, hits := containsAny(lower, cryptoScamPhrases)
	hasWallet := btcAddressRE.MatchString(body) || ethAddressRE.MatchString(body)
	if cryptoPhrases > 0 && hasWallet {
		c.flag("crypto_scam", SeverityHigh, "Crypto scam indicators",
			fmt.Sprintf("%d crypto lure phrase(s) alongside wallet addresses", cryptoPhrases),
			8, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, investmentPhrases); n >= 2 {
		c.flag("investment_fraud", SeverityMedium, "Investment fraud language",
			fmt.Sprintf("%d implausible-return phrase(s)", n), 6, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if n, hits := containsAny(lower, wireTransferPhrases); n >= 1 {
		c.flag("wire_transfer_request", SeverityMedium, "Untraceable payment request",
			fmt.Sprintf("%d wire/cash/gift-card payment reference(s)", n), 5, map[string]any{"phrases": hits})
	} else {
		c.pass()
	}

	if brand := impersonatedProcessor(body, lower, ctx.Target.RegistrableDomain, hasPaymentFields); brand != "" {
		c.flag("processor_impersonation", SeverityHigh, "Payment processor impersonation",
			fmt.Sprintf("page presents as %q on a domain the processor does not own", brand),
			8, map[string]any{"brand": brand})
	} else {
		c.pass()
	}
}

func referencesKnownProcessor(body string) bool {
	for _, m := range processorRefRE.FindAllStringSubmatch(body, -1) {
		host := strings.ToLower(m[1])
		for d := range paymentProcessors {
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
	}
	return false
}

// impersonatedProcessor flags processor keywords on a non-whitelisted domain
// when combined with payment inputs or processor logos.
func impersonatedProcessor(body, lower, registrable string, hasPaymentFields bool) string {
	if registrable != "" {
		for d := range paymentProcessors {
			if registrable == d {
				return ""
			}
		}
	}
	for _, brand := range processorBrands {
		if strings.Contains(lower, brand) && (hasPaymentFields || payLogoRE.MatchString(body)) {
			return brand
		}
	}
	return ""
}
