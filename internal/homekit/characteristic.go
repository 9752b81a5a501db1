package homekit

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/brutella/hap/characteristic"
	"github.com/google/uuid"
)

// TypeVolume is the custom volume characteristic older bridges exposed on the
// power switch. Reusing it keeps existing automations working.
const TypeVolume = "91288267-5678-49B2-8D22-F57BE995AA93"

// TypeChannelFallback is used when a channel type cannot be derived.
const TypeChannelFallback = "4f8c78f9-c7a2-4316-b53d-f06427f0a09a"

// NewVolume creates the percentage volume characteristic.
func NewVolume() *characteristic.Int {
	c := characteristic.NewInt(TypeVolume)
	c.Format = characteristic.FormatInt32
	c.Unit = characteristic.UnitPercentage
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionWrite, characteristic.PermissionEvents}
	c.SetMinValue(0)
	c.SetMaxValue(100)
	c.SetStepValue(1)
	c.SetValue(0)
	return c
}

// NewChannel creates a 1-based channel selector for count channels.
func NewChannel(count int) *characteristic.Int {
	c := characteristic.NewInt(ChannelType(count))
	c.Format = characteristic.FormatInt32
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionWrite, characteristic.PermissionEvents}
	c.SetMinValue(1)
	c.SetMaxValue(count)
	c.SetStepValue(1)
	c.SetValue(1)
	return c
}

// ChannelType derives the characteristic type from the channel count, so the
// type changes whenever the valid range does. Controllers cache a
// characteristic's range by type.
func ChannelType(count int) string {
	if count < 1 {
		return TypeChannelFallback
	}
	return nameUUID("Channel-" + strconv.Itoa(count))
}

// nameUUID formats the SHA-1 of name as a version 4 style UUID the way
// HomeKit accessory tooling traditionally derives stable custom types.
func nameUUID(name string) string {
	sum := sha1.Sum([]byte(name))
	digits := hex.EncodeToString(sum[:])

	var b strings.Builder
	i := 0
	for _, r := range "xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx" {
		switch r {
		case 'x':
			b.WriteByte(digits[i])
			i++
		case 'y':
			v := hexValue(digits[i])&0x3 | 0x8
			b.WriteByte("0123456789abcdef"[v])
			i++
		default:
			b.WriteRune(r)
		}
	}

	id, err := uuid.Parse(b.String())
	if err != nil {
		return TypeChannelFallback
	}
	return id.String()
}

func hexValue(c byte) byte {
	if c >= 'a' {
		return c - 'a' + 10
	}
	return c - '0'
}
