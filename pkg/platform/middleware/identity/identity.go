// Package identity reads the caller identity and POS context forwarded by
// the gateway and stores it in the request context.
package identity

import (
	"net/http"
	"strings"

	"hivelog/pkg/platform/middleware/device"
	"hivelog/pkg/requestcontext"
)

// Forwarded identity headers.
const (
	HeaderUserID         = "X-User-Id"
	HeaderUsername       = "X-Username"
	HeaderSessionID      = "X-Session-Id"
	HeaderTerminalID     = "X-Terminal-Id"
	HeaderStoreID        = "X-Store-Id"
	HeaderStoreName      = "X-Store-Name"
	HeaderShiftID        = "X-Shift-Id"
	HeaderPharmacistID   = "X-Pharmacist-Id"
	HeaderPharmacistName = "X-Pharmacist-Name"
	HeaderEmployeeID     = "X-Employee-Id"
	HeaderEmployeeName   = "X-Employee-Name"
	HeaderDeviceInfo     = "X-Device-Info"
)

// Middleware populates identity, session and POS context. Requests without
// a user header are attributed to requestcontext.SystemUser. Run it after
// metadata.ClientMetadata so the client IP is known.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		h := r.Header

		userID := header(h, HeaderUserID)
		if userID == "" {
			userID = requestcontext.SystemUser
		}
		ctx = requestcontext.WithUser(ctx, userID, header(h, HeaderUsername), requestcontext.ClientIP(ctx))
		if sessionID := header(h, HeaderSessionID); sessionID != "" {
			ctx = requestcontext.WithSessionID(ctx, sessionID)
		}

		pos := requestcontext.POSContext{
			TerminalID:     header(h, HeaderTerminalID),
			StoreID:        header(h, HeaderStoreID),
			StoreName:      header(h, HeaderStoreName),
			ShiftID:        header(h, HeaderShiftID),
			PharmacistID:   header(h, HeaderPharmacistID),
			PharmacistName: header(h, HeaderPharmacistName),
			EmployeeID:     header(h, HeaderEmployeeID),
			EmployeeName:   header(h, HeaderEmployeeName),
			DeviceInfo:     header(h, HeaderDeviceInfo),
		}
		if !pos.IsZero() {
			if pos.DeviceInfo == "" {
				pos.DeviceInfo = device.Describe(requestcontext.UserAgent(ctx))
			}
			ctx = requestcontext.WithPOS(ctx, pos)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func header(h http.Header, name string) string {
	return strings.TrimSpace(h.Get(name))
}
