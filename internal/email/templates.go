package email

import (
	"fmt"
	"time"
)

// MissedCallAlertTemplate renders the HTML body for a missed-call alert.
func MissedCallAlertTemplate(recipientName, caregiverName string) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; background-color: #f4f4f4; margin: 0; padding: 20px; }
        .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { background-color: #C0392B; color: white; padding: 20px; text-align: center; }
        .header h1 { margin: 0; font-size: 24px; }
        .content { padding: 30px; }
        .alert-box { background-color: #FFF3CD; border-left: 4px solid #C0392B; padding: 15px; margin: 20px 0; }
        .footer { background-color: #f8f9fa; padding: 15px; text-align: center; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Missed Check-in Call</h1>
        </div>
        <div class="content">
            <p>Hello <strong>%s</strong>,</p>

            <div class="alert-box">
                <strong>%s</strong> did not answer their scheduled ElderVoice companion call.
            </div>

            <p><strong>Date/Time:</strong> %s</p>

            <p>Please check in on them. This alert was sent by email because the
            push notification could not be delivered.</p>

            <p><strong>Suggested next steps:</strong></p>
            <ul>
                <li>Give them a call to make sure everything is all right</li>
                <li>Check that their device is switched on and charged</li>
                <li>Check that notifications are enabled in the ElderVoice app</li>
            </ul>
        </div>
        <div class="footer">
            <p>This is an automatic email from ElderVoice. Please do not reply.</p>
        </div>
    </div>
</body>
</html>
    `, caregiverName, recipientName, time.Now().Format("Jan 2, 2006 3:04 PM"))
}
