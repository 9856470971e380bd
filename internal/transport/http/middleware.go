package httptransport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"shopimage-server-go/internal/domain/admission"
)

const (
	ctxIdentityKey = "admission.identity"
	ctxPlanKey     = "admission.plan"
)

// IdentityMiddleware resolves the requester identity and plan for the
// admission layer. Authenticated callers present x-user-id and x-plan
// headers; everyone else is keyed by client IP on the default plan.
func IdentityMiddleware(defaultPlan string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader("x-user-id")); uid != "" {
			plan := strings.TrimSpace(c.GetHeader("x-plan"))
			if plan == "" {
				plan = defaultPlan
			}
			c.Set(ctxIdentityKey, uid)
			c.Set(ctxPlanKey, plan)
			c.Next()
			return
		}

		ip := clientIP(c)
		c.Set(ctxIdentityKey, "ip:"+ip)
		c.Set(ctxPlanKey, defaultPlan)
		c.Next()
	}
}

// Identity returns the resolved identity and plan for a request.
func Identity(c *gin.Context) (string, string) {
	identity := c.GetString(ctxIdentityKey)
	plan := c.GetString(ctxPlanKey)
	return identity, plan
}

// clientIP prefers the first x-forwarded-for hop, then x-real-ip, then the
// socket peer.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("x-forwarded-for"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(c.GetHeader("x-real-ip")); rip != "" {
		return rip
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// RateLimitMiddleware enforces the per-identity token bucket and attaches
// the rate headers to every response it sees.
func RateLimitMiddleware(gate *admission.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := Identity(c)
		d := gate.TakeRate(identity)

		c.Header("x-ratelimit-limit", strconv.Itoa(d.Limit))
		c.Header("x-ratelimit-remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			c.Header("retry-after", strconv.Itoa(int(d.RetryAfter.Seconds())))
			message := "rate limit exceeded"
			if d.Locked {
				message = fmt.Sprintf("too many requests, locked for %ds", int(d.RetryAfter.Seconds()))
			}
			RespondError(c, 429, message, nil)
			c.Abort()
			return
		}

		c.Next()
	}
}

// SetQuotaHeaders attaches the quota state headers. A plan with no daily
// cap reports the literal "unlimited".
func SetQuotaHeaders(c *gin.Context, q admission.QuotaDecision) {
	c.Header("x-quota-plan", q.Plan)
	if q.RemainingDay != nil {
		c.Header("x-quota-remaining-day", strconv.FormatUint(*q.RemainingDay, 10))
	} else {
		c.Header("x-quota-remaining-day", "unlimited")
	}
	c.Header("x-quota-remaining-month", strconv.FormatUint(q.RemainingMonth, 10))
}
