package commerce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"storefront/internal/model"
)

// The two endpoint families describe the same cart with different field
// names. Every known server field is listed once in itemFieldTable with the
// canonical CartItem field it maps to and the families it may appear in.
// Lookup walks the table in order, so earlier rows win when a payload
// carries several aliases for one field.

type canonicalField int

const (
	fieldProductID canonicalField = iota
	fieldLineID
	fieldName
	fieldUnitPrice
	fieldQuantity
	fieldImage
	fieldVariant
	fieldSubtotal
	fieldTracksInventory
	fieldStock
)

type familyMask uint8

const (
	sessionFamily familyMask = 1 << iota
	accountFamily
	anyFamily = sessionFamily | accountFamily
)

type fieldAlias struct {
	wire     string
	field    canonicalField
	families familyMask
}

// Keys prefixed with "product." come from a nested product object, which
// account carts embed instead of flat product columns.
var itemFieldTable = []fieldAlias{
	{"product_id", fieldProductID, anyFamily},
	{"productId", fieldProductID, anyFamily},
	{"product.id", fieldProductID, accountFamily},
	{"product", fieldProductID, accountFamily},

	{"cart_item_id", fieldLineID, accountFamily},
	{"item_id", fieldLineID, accountFamily},
	{"id", fieldLineID, accountFamily},

	{"name", fieldName, anyFamily},
	{"product_name", fieldName, anyFamily},
	{"product.name", fieldName, accountFamily},

	{"price", fieldUnitPrice, sessionFamily},
	{"unit_price", fieldUnitPrice, anyFamily},
	{"product_price", fieldUnitPrice, accountFamily},
	{"product.price", fieldUnitPrice, accountFamily},

	{"quantity", fieldQuantity, anyFamily},
	{"qty", fieldQuantity, anyFamily},

	{"image", fieldImage, anyFamily},
	{"image_url", fieldImage, anyFamily},
	{"product_image", fieldImage, accountFamily},
	{"product.image", fieldImage, accountFamily},

	{"variant_id", fieldVariant, anyFamily},
	{"variant", fieldVariant, accountFamily},

	{"subtotal", fieldSubtotal, anyFamily},
	{"total_price", fieldSubtotal, accountFamily},
	{"item_total", fieldSubtotal, anyFamily},

	{"track_inventory", fieldTracksInventory, anyFamily},
	{"manage_stock", fieldTracksInventory, sessionFamily},
	{"product.track_inventory", fieldTracksInventory, accountFamily},

	{"stock_quantity", fieldStock, anyFamily},
	{"available_stock", fieldStock, anyFamily},
	{"stock", fieldStock, sessionFamily},
	{"product.stock_quantity", fieldStock, accountFamily},
}

// Totals and metadata aliases, in preference order.
var (
	subtotalAliases  = []string{"subtotal", "sub_total"}
	taxAliases       = []string{"tax_amount", "tax"}
	shippingAliases  = []string{"shipping_amount", "shipping_cost", "shipping"}
	totalAliases     = []string{"total_amount", "grand_total", "total"}
	currencyAliases  = []string{"currency", "currency_code"}
	itemCountAliases = []string{"total_items", "total_item_count", "item_count"}
	taxRateAliases   = []string{"tax_rate"}
	freeShipAliases  = []string{"free_shipping_threshold"}
)

type rawObject map[string]json.RawMessage

func familyOf(id model.Identity) familyMask {
	if id.IsAuthenticated() {
		return accountFamily
	}
	return sessionFamily
}

// lookup returns the first present, non-null alias of field for the family.
func (o rawObject) lookup(field canonicalField, fam familyMask) (json.RawMessage, string, bool) {
	for _, a := range itemFieldTable {
		if a.field != field || a.families&fam == 0 {
			continue
		}
		if v, ok := o[a.wire]; ok && !isNull(v) {
			return v, a.wire, true
		}
	}
	return nil, "", false
}

// first returns the first present, non-null key among aliases.
func (o rawObject) first(aliases []string) (json.RawMessage, bool) {
	for _, k := range aliases {
		if v, ok := o[k]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

// object returns the nested object at key, if it is one.
func (o rawObject) object(key string) (rawObject, bool) {
	v, ok := o[key]
	if !ok || !isObject(v) {
		return nil, false
	}
	var nested rawObject
	if err := json.Unmarshal(v, &nested); err != nil {
		return nil, false
	}
	return nested, true
}

// normalizeCart maps a cart summary body onto the canonical snapshot and
// rejects it if it fails the schema check.
func normalizeCart(body []byte, id model.Identity) (*model.CartSnapshot, error) {
	var root rawObject
	if err := json.Unmarshal(body, &root); err != nil || root == nil {
		return nil, model.NewInvalidPayloadError("cart summary is not a JSON object")
	}
	for _, envelope := range []string{"cart", "data"} {
		if inner, ok := root.object(envelope); ok {
			root = inner
			break
		}
	}

	totalsSrc := root
	for _, key := range []string{"totals", "summary"} {
		if t, ok := root.object(key); ok {
			totalsSrc = t
			break
		}
	}
	metaSrc := root
	if m, ok := root.object("metadata"); ok {
		metaSrc = m
	}

	currencyCode := model.DefaultCurrency
	for _, src := range []rawObject{totalsSrc, root} {
		if v, ok := src.first(currencyAliases); ok {
			if s, ok := scalarString(v); ok && s != "" {
				currencyCode = strings.ToUpper(s)
				break
			}
		}
	}

	items, err := normalizeItems(root, familyOf(id), currencyCode)
	if err != nil {
		return nil, err
	}

	totals := model.CartTotals{Currency: currencyCode}
	amounts := []struct {
		aliases []string
		dst     *int64
	}{
		{subtotalAliases, &totals.Subtotal},
		{taxAliases, &totals.TaxAmount},
		{shippingAliases, &totals.ShippingAmount},
		{totalAliases, &totals.TotalAmount},
	}
	for _, a := range amounts {
		v, ok := totalsSrc.first(a.aliases)
		if !ok {
			continue
		}
		n, err := amount(v, currencyCode)
		if err != nil {
			return nil, model.NewInvalidPayloadError(fmt.Sprintf("totals %s: %v", a.aliases[0], err))
		}
		*a.dst = n
	}
	meta := model.CartMetadata{}
	if v, ok := metaSrc.first(itemCountAliases); ok {
		if n, err := integer(v); err == nil {
			meta.TotalItemCount = n
		}
	} else {
		for _, item := range items {
			meta.TotalItemCount += item.Quantity
		}
	}
	if v, ok := metaSrc.first(taxRateAliases); ok {
		if s, ok := scalarString(v); ok {
			meta.TaxRate, _ = strconv.ParseFloat(s, 64)
		}
	}
	if v, ok := metaSrc.first(freeShipAliases); ok {
		if n, err := amount(v, currencyCode); err == nil {
			meta.FreeShippingThreshold = n
		}
	}

	snap := &model.CartSnapshot{Items: items, Totals: totals, Metadata: meta}
	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func normalizeItems(root rawObject, fam familyMask, currencyCode string) ([]model.CartItem, error) {
	raw, ok := root.first([]string{"items", "cart_items"})
	if !ok {
		return []model.CartItem{}, nil
	}
	var rawItems []rawObject
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return nil, model.NewInvalidPayloadError("items is not an array of objects")
	}

	items := make([]model.CartItem, 0, len(rawItems))
	for i, obj := range rawItems {
		item, err := normalizeItem(obj, fam, currencyCode)
		if err != nil {
			return nil, model.NewInvalidPayloadError(fmt.Sprintf("item %d: %s", i, err))
		}
		items = append(items, item)
	}
	return items, nil
}

func normalizeItem(obj rawObject, fam familyMask, currencyCode string) (model.CartItem, error) {
	if product, ok := obj.object("product"); ok {
		for k, v := range product {
			obj["product."+k] = v
		}
		delete(obj, "product")
	}

	var item model.CartItem
	str := func(f canonicalField) string {
		v, _, ok := obj.lookup(f, fam)
		if !ok {
			return ""
		}
		s, _ := scalarString(v)
		return s
	}

	item.ProductID = str(fieldProductID)
	if fam == accountFamily {
		item.CartLineID = str(fieldLineID)
		if item.CartLineID == "" {
			return item, fmt.Errorf("missing cart line id")
		}
	}
	item.Name = str(fieldName)
	item.ImageRef = str(fieldImage)
	item.VariantID = str(fieldVariant)

	v, wire, ok := obj.lookup(fieldQuantity, fam)
	if !ok {
		return item, fmt.Errorf("missing quantity")
	}
	qty, err := integer(v)
	if err != nil {
		return item, fmt.Errorf("%s: %w", wire, err)
	}
	item.Quantity = qty

	v, wire, ok = obj.lookup(fieldUnitPrice, fam)
	if !ok {
		return item, fmt.Errorf("missing unit price")
	}
	if item.UnitPrice, err = amount(v, currencyCode); err != nil {
		return item, fmt.Errorf("%s: %w", wire, err)
	}

	if v, wire, ok = obj.lookup(fieldSubtotal, fam); ok {
		if item.Subtotal, err = amount(v, currencyCode); err != nil {
			return item, fmt.Errorf("%s: %w", wire, err)
		}
	} else {
		// Session carts may omit the line total.
		item.Subtotal = item.UnitPrice * int64(item.Quantity)
	}

	if v, _, ok = obj.lookup(fieldTracksInventory, fam); ok {
		item.TracksInventory = boolean(v)
	}
	if v, _, ok = obj.lookup(fieldStock, fam); ok && item.TracksInventory {
		if n, err := integer(v); err == nil {
			item.AvailableStock = &n
		}
	}

	return item, nil
}

// wireOrder is the checkout body shared by the order and payment endpoints.
type wireOrder struct {
	SessionID       string              `json:"session_id,omitempty"`
	Email           string              `json:"email,omitempty"`
	Phone           string              `json:"phone,omitempty"`
	ShippingAddress model.Address       `json:"shipping_address"`
	BillingAddress  model.Address       `json:"billing_address"`
	PaymentMethod   model.PaymentMethod `json:"payment_method"`
	Notes           string              `json:"notes,omitempty"`
}

func toWireOrder(draft *model.OrderDraft, id model.Identity) wireOrder {
	w := wireOrder{
		ShippingAddress: draft.ShippingAddress,
		BillingAddress:  draft.BillingAddress,
		PaymentMethod:   draft.PaymentMethod,
		Notes:           draft.Notes,
	}
	if !id.IsAuthenticated() {
		w.SessionID = id.SessionID
	}
	if draft.Contact != nil {
		w.Email = draft.Contact.Email
		w.Phone = draft.Contact.Phone
	}
	return w
}

// normalizeOrder reads a placed order, accepting a bare or enveloped body.
func normalizeOrder(body []byte, fallbackMethod model.PaymentMethod) (*model.PlacedOrder, error) {
	var root rawObject
	if err := json.Unmarshal(body, &root); err != nil || root == nil {
		return nil, model.NewInvalidPayloadError("order response is not a JSON object")
	}
	for _, envelope := range []string{"order", "data"} {
		if inner, ok := root.object(envelope); ok {
			root = inner
			break
		}
	}

	text := func(aliases ...string) string {
		v, ok := root.first(aliases)
		if !ok {
			return ""
		}
		s, _ := scalarString(v)
		return s
	}

	order := &model.PlacedOrder{
		OrderNumber:   text("order_number", "order_id", "id"),
		PaymentMethod: model.PaymentMethod(text("payment_method")),
		Status:        text("status", "order_status"),
		CustomerEmail: text("customer_email", "email"),
	}
	if order.OrderNumber == "" {
		return nil, model.NewInvalidPayloadError("order response has no order number")
	}
	if !order.PaymentMethod.Valid() {
		order.PaymentMethod = fallbackMethod
	}

	currencyCode := model.DefaultCurrency
	if c := text(currencyAliases...); c != "" {
		currencyCode = strings.ToUpper(c)
	}
	if v, ok := root.first([]string{"total_amount", "total"}); ok {
		n, err := amount(v, currencyCode)
		if err != nil {
			return nil, model.NewInvalidPayloadError(fmt.Sprintf("order total: %v", err))
		}
		order.TotalAmount = n
	}
	return order, nil
}

// normalizeIntent reads a payment intent. The gateway reports amount in
// minor units already, unlike cart amounts.
func normalizeIntent(body []byte) (*model.PaymentIntent, error) {
	var root rawObject
	if err := json.Unmarshal(body, &root); err != nil || root == nil {
		return nil, model.NewInvalidPayloadError("payment intent is not a JSON object")
	}
	text := func(aliases ...string) string {
		v, ok := root.first(aliases)
		if !ok {
			return ""
		}
		s, _ := scalarString(v)
		return s
	}

	intent := &model.PaymentIntent{
		GatewayOrderID:    text("razorpay_order_id", "gateway_order_id", "order_id", "id"),
		Currency:          strings.ToUpper(text(currencyAliases...)),
		GatewayAccountKey: text("razorpay_key_id", "key_id", "key"),
	}
	if intent.Currency == "" {
		intent.Currency = model.DefaultCurrency
	}
	if intent.GatewayOrderID == "" {
		return nil, model.NewInvalidPayloadError("payment intent has no gateway order id")
	}
	if intent.GatewayAccountKey == "" {
		return nil, model.NewInvalidPayloadError("payment intent has no gateway key")
	}
	v, ok := root.first([]string{"amount"})
	if !ok {
		return nil, model.NewInvalidPayloadError("payment intent has no amount")
	}
	n, err := integer(v)
	if err != nil || n <= 0 {
		return nil, model.NewInvalidPayloadError("payment intent amount must be a positive integer")
	}
	intent.Amount = int64(n)
	return intent, nil
}

func normalizeAuthSession(body []byte) (*model.AuthSession, error) {
	var root rawObject
	if err := json.Unmarshal(body, &root); err != nil || root == nil {
		return nil, model.NewInvalidPayloadError("login response is not a JSON object")
	}
	v, ok := root.first([]string{"token", "access_token", "access"})
	token, _ := scalarString(v)
	if !ok || token == "" {
		return nil, model.NewInvalidPayloadError("login response has no token")
	}

	session := &model.AuthSession{Token: token}
	if user, ok := root.object("user"); ok {
		session.Account = accountFrom(user)
	}
	return session, nil
}

func normalizeAccount(body []byte) (*model.Account, error) {
	var root rawObject
	if err := json.Unmarshal(body, &root); err != nil || root == nil {
		return nil, model.NewInvalidPayloadError("account response is not a JSON object")
	}
	if user, ok := root.object("user"); ok {
		root = user
	}
	account := accountFrom(root)
	if account.ID == "" && account.Email == "" {
		return nil, model.NewInvalidPayloadError("account response has neither id nor email")
	}
	return &account, nil
}

func accountFrom(o rawObject) model.Account {
	text := func(aliases ...string) string {
		v, ok := o.first(aliases)
		if !ok {
			return ""
		}
		s, _ := scalarString(v)
		return s
	}
	return model.Account{
		ID:        text("id", "user_id"),
		Email:     text("email"),
		FirstName: text("first_name"),
		LastName:  text("last_name"),
		Phone:     text("phone", "phone_number"),
		Role:      text("role"),
	}
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}

func isObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}

// scalarString renders a JSON string or number as text.
func scalarString(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return "", false
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	case '{', '[', 'n', 't', 'f':
		return "", false
	default:
		return string(v), true
	}
}

// amount parses a major-unit price (number or decimal string) into minor units.
func amount(v json.RawMessage, currencyCode string) (int64, error) {
	s, ok := scalarString(v)
	if !ok {
		return 0, fmt.Errorf("not a number")
	}
	return model.ParseMinor(s, currencyCode)
}

// integer parses a JSON integer or integer string.
func integer(v json.RawMessage) (int, error) {
	s, ok := scalarString(v)
	if !ok {
		return 0, fmt.Errorf("not an integer")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("not an integer: %q", s)
		}
		n = int(f)
	}
	return n, nil
}

// boolean accepts JSON booleans and the common string/number spellings.
func boolean(v json.RawMessage) bool {
	switch strings.ToLower(strings.Trim(string(bytes.TrimSpace(v)), `"`)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
