package aws

import "github.com/shopspring/decimal"

// Static list-price estimates used to value detected waste. These are
// deliberately conservative us-east-1 on-demand figures; the point is
// ranking and rough sizing, not invoicing.
var (
	// Per GB-month.
	rateGP3PerGB      = decimal.NewFromFloat(0.08)
	rateGP2PerGB      = decimal.NewFromFloat(0.10)
	rateIO1PerGB      = decimal.NewFromFloat(0.125)
	rateSnapshotPerGB = decimal.NewFromFloat(0.05)

	// Flat monthly.
	rateElasticIP  = decimal.NewFromFloat(3.60)  // $0.005/hr idle
	rateNATGateway = decimal.NewFromFloat(32.85) // $0.045/hr, traffic excluded

	// Fallbacks when instance pricing is unknown.
	rateInstanceDefault = decimal.NewFromFloat(70.00)
	rateRDSDefault      = decimal.NewFromFloat(105.00)

	rateS3StandardPerGB = decimal.NewFromFloat(0.023)
	rateECRPerGB        = decimal.NewFromFloat(0.10)
)

// Rough monthly on-demand prices for common instance families. Unlisted
// types fall back to the default.
var instanceMonthlyRates = map[string]decimal.Decimal{
	"t2.micro":    decimal.NewFromFloat(8.50),
	"t3.micro":    decimal.NewFromFloat(7.60),
	"t3.small":    decimal.NewFromFloat(15.20),
	"t3.medium":   decimal.NewFromFloat(30.40),
	"t3.large":    decimal.NewFromFloat(60.80),
	"m5.large":    decimal.NewFromFloat(70.10),
	"m5.xlarge":   decimal.NewFromFloat(140.20),
	"m5.2xlarge":  decimal.NewFromFloat(280.30),
	"c5.large":    decimal.NewFromFloat(62.10),
	"c5.xlarge":   decimal.NewFromFloat(124.10),
	"r5.large":    decimal.NewFromFloat(91.98),
	"r5.xlarge":   decimal.NewFromFloat(183.96),
	"p3.2xlarge":  decimal.NewFromFloat(2235.60),
	"g4dn.xlarge": decimal.NewFromFloat(384.08),
}

// gpuInstancePrefixes marks families that carry GPUs.
var gpuInstancePrefixes = []string{"p2", "p3", "p4", "p5", "g3", "g4", "g5", "g6", "inf", "trn"}

func volumeRatePerGB(volumeType string) decimal.Decimal {
	switch volumeType {
	case "gp3":
		return rateGP3PerGB
	case "io1", "io2":
		return rateIO1PerGB
	case "gp2":
		return rateGP2PerGB
	default:
		return rateGP2PerGB
	}
}

func instanceMonthlyRate(instanceType string) decimal.Decimal {
	if rate, ok := instanceMonthlyRates[instanceType]; ok {
		return rate
	}
	return rateInstanceDefault
}
