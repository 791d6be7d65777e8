package approval

import (
	"time"

	"github.com/pquerna/otp/totp"
)

func nowTrunc() time.Time { return time.Now() }

func defaultValidateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    6,
		Algorithm: 0, // otp.AlgorithmSHA1 zero value
	}
}
