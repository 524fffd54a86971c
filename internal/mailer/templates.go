package mailer

// billingTemplates holds the HTML bodies for billing notifications, keyed by
// the billing package's template names.
const billingTemplates = `
{{define "payment_failed"}}
<html>
<body style="font-family: sans-serif; color: #1a1a2e;">
  <h2>Payment failed</h2>
  <p>Hi {{.tenantName}},</p>
  <p>We could not collect the payment of <strong>{{.amount}}</strong> for your
  <strong>{{.planId}}</strong> plan.</p>
  {{if .errorMessage}}<p>Your payment provider said: <em>{{.errorMessage}}</em></p>{{end}}
  {{if .nextRetryAt}}
  <p>We will automatically try again on <strong>{{.nextRetryAt.Format "January 2, 2006"}}</strong>
  ({{.remainingRetries}} {{if eq .remainingRetries 1}}retry{{else}}retries{{end}} remaining).</p>
  {{end}}
  {{if .gracePeriodEndsAt}}
  <p><strong>This is our final notice.</strong> Please update your payment method before
  <strong>{{.gracePeriodEndsAt.Format "January 2, 2006"}}</strong> to keep your chatbots online.</p>
  {{end}}
  <p>You can update your payment details from your billing dashboard at any time.</p>
  <p>— The ConvoDock team</p>
</body>
</html>
{{end}}

{{define "payment_recovered"}}
<html>
<body style="font-family: sans-serif; color: #1a1a2e;">
  <h2>Payment received</h2>
  <p>Hi {{.tenantName}},</p>
  <p>Good news: your payment of <strong>{{.amount}}</strong> for the
  <strong>{{.planId}}</strong> plan went through. Your subscription is active again
  and your chatbots are unaffected.</p>
  <p>— The ConvoDock team</p>
</body>
</html>
{{end}}

{{define "subscription_canceled"}}
<html>
<body style="font-family: sans-serif; color: #1a1a2e;">
  <h2>Subscription canceled</h2>
  <p>Hi {{.tenantName}},</p>
  <p>We were unable to collect payment for your <strong>{{.planId}}</strong> plan and the
  grace period has ended, so your subscription was canceled on
  {{.canceledAt.Format "January 2, 2006"}}. Your chatbots have been taken offline,
  but your data is kept for 30 days.</p>
  <p>Resubscribe from your billing dashboard to restore service.</p>
  <p>— The ConvoDock team</p>
</body>
</html>
{{end}}
`
