// Package otp provides the reference one-time-code factor for stepup: numeric
// codes delivered by SMS or email, stored only as digests, and redeemable
// once.
package otp
