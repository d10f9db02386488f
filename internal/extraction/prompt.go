package extraction

// instructions is sent alongside every screenshot.
const instructions = "Analyze the attached UPI transaction screenshot carefully.\n" +
	"From the visual cues, logos and text, identify the payment app used " +
	"(e.g. \"googlepay\", \"phonepay\", \"paytm\", \"aadhar\").\n" +
	"Provide the output ONLY as a single valid JSON object. If a value is not present, use null.\n\n" +
	"Fields:\n" +
	"- \"payment_app\": the app name, one of \"googlepay\", \"phonepay\", \"paytm\", \"aadhar\" or \"other\", lower case\n" +
	"- \"status\": the final status of the transaction (e.g. \"Successful\", \"Completed\", \"Failed\")\n" +
	"- \"amount\": the primary transaction amount as a number\n" +
	"- \"dateTime\": date and time of the transaction as an ISO-8601 string (\"YYYY-MM-DDTHH:MM:SS\")\n" +
	"- \"transaction_type\": \"debit\" if money was sent, \"credit\" if money was received\n" +
	"- \"upi_transaction_id\": the main UPI transaction id or reference number (Ref No)\n" +
	"- \"sender_name\": the person or entity sending the money\n" +
	"- \"sender_id\": the UPI id or phone number of the sender\n" +
	"- \"receiver_name\": the person or entity receiving the money\n" +
	"- \"receiver_id\": the UPI id or phone number of the receiver\n\n" +
	"Return ONLY raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"
