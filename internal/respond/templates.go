package respond

import (
	"fmt"
	"strings"

	"github.com/bakirov/instashop/internal/cart"
	"github.com/bakirov/instashop/internal/storage"
)

// Fixed reply texts. The bot speaks Russian regardless of AI availability,
// so every phase has a static counterpart to the AI-generated reply.

const (
	// Greeting is the fixed menu shown after a control-word reset.
	Greeting = "Здравствуйте! Это магазин товаров для парикмахеров в Бишкеке.\n" +
		"Напишите «каталог», чтобы посмотреть товары, или «купить», чтобы оформить заказ.\n" +
		"Доставка по Бишкеку бесплатная."

	// Apology is the generic failure reply; it never exposes error details.
	Apology = "Извините, произошла ошибка. Попробуйте, пожалуйста, ещё раз или напишите «помощь»."

	// ThankYou answers gratitude without changing phase.
	ThankYou = "Пожалуйста! Обращайтесь, если понадобится что-то ещё."

	// ComplaintSuffix is appended to every complaint reply.
	ComplaintSuffix = "\n\nВаше обращение зарегистрировано, мы свяжемся с вами в ближайшее время."

	// SelectPrompt asks the customer to name an item from the catalog.
	SelectPrompt = "Напишите название товара, который хотите заказать, например: «Триммер Philips 2 шт»."

	// CartEmpty is shown on checkout with nothing selected.
	CartEmpty = "Ваша корзина пока пуста. Напишите название товара из каталога, чтобы добавить его."

	// PhonePrompt asks for a contact number after checkout starts.
	PhonePrompt = "Отлично! Напишите, пожалуйста, ваш номер телефона для связи, например: +996 555 123 456."

	// PhoneReprompt is shown when no phone pattern was recognized.
	PhoneReprompt = "Не удалось распознать номер телефона. Напишите его в формате +996 555 123 456 или 0555 12 34 56."

	// AddressPrompt asks for the delivery address.
	AddressPrompt = "Спасибо! Теперь напишите адрес доставки (город, улица, дом, квартира)."

	// AddressReprompt is shown when the address is too short to be usable.
	AddressReprompt = "Адрес слишком короткий. Напишите, пожалуйста, полный адрес доставки: город, улица, дом, квартира."

	// ConfirmReprompt repeats the exact confirmation token.
	ConfirmReprompt = "Чтобы оформить заказ, напишите «Подтвердить». Если хотите начать заново, напишите «помощь»."
)

// FormatCatalog renders the available product listing with prices.
func FormatCatalog(products []storage.Product) string {
	if len(products) == 0 {
		return "К сожалению, сейчас нет доступных товаров. Загляните позже!"
	}
	var sb strings.Builder
	sb.WriteString("Наши товары:\n")
	for _, p := range products {
		fmt.Fprintf(&sb, "— %s — %d сом\n", p.Name, p.Price)
		if p.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", p.Description)
		}
	}
	sb.WriteString("\nНапишите название товара, чтобы заказать.")
	return sb.String()
}

// FormatCart renders the current cart with line subtotals and the total.
func FormatCart(lines []cart.Line, total int64) string {
	if len(lines) == 0 {
		return CartEmpty
	}
	var sb strings.Builder
	sb.WriteString("Ваша корзина:\n")
	for _, l := range lines {
		fmt.Fprintf(&sb, "— %s × %d = %d сом\n", l.Product.Name, l.Quantity, l.Subtotal)
	}
	fmt.Fprintf(&sb, "Итого: %d сом\n\nНапишите «оформить», чтобы перейти к оформлению, или добавьте ещё товар.", total)
	return sb.String()
}

// FormatOrderSummary renders the pre-confirmation summary with instructions.
func FormatOrderSummary(lines []cart.Line, total int64, phone, address string) string {
	var sb strings.Builder
	sb.WriteString("Проверьте ваш заказ:\n")
	for _, l := range lines {
		fmt.Fprintf(&sb, "— %s × %d = %d сом\n", l.Product.Name, l.Quantity, l.Subtotal)
	}
	fmt.Fprintf(&sb, "Итого: %d сом\nТелефон: %s\nАдрес: %s\n\n", total, phone, address)
	sb.WriteString("Если всё верно, напишите «Подтвердить».")
	return sb.String()
}

// FormatOrderConfirmation renders the post-finalization receipt.
func FormatOrderConfirmation(orderID string, total int64, phone, address string) string {
	return fmt.Sprintf(
		"Спасибо за заказ! 🎉\nНомер заказа: %s\nСумма: %d сом\nТелефон: %s\nАдрес доставки: %s\n\n"+
			"Мы свяжемся с вами для подтверждения. Доставка по Бишкеку бесплатная.",
		orderID, total, phone, address)
}

// FormatNotFound is shown when no catalog product matched the message.
func FormatNotFound(products []storage.Product) string {
	return "Не нашли такой товар. Вот что есть в наличии:\n\n" + FormatCatalog(products)
}

// fallbacks are the static per-phase replies used when the AI provider is
// unavailable. Collection phases never reach the generator and are absent.
var fallbacks = map[storage.Phase]string{
	storage.PhaseIdle: "Здравствуйте! Напишите «каталог», чтобы посмотреть наши товары, " +
		"или «купить», чтобы оформить заказ. Доставка по Бишкеку бесплатная.",
	storage.PhaseBrowsing:          "Когда выберете товар, напишите «купить» — и я помогу оформить заказ.",
	storage.PhaseSelectingProducts: "Напишите название товара из каталога, чтобы добавить его в корзину.",
	storage.PhaseInquiry: "Доставка по Бишкеку бесплатная, оплата при получении. " +
		"Напишите «каталог», чтобы посмотреть товары.",
	storage.PhaseComplaint:    "Сожалеем, что возникла проблема. Опишите, пожалуйста, подробнее, что случилось.",
	storage.PhasePostPurchase: "Ваш заказ оформлен. Напишите «каталог», если хотите что-то ещё.",
}

// Fallback returns the static reply for a phase. Phases without a template
// get the idle text.
func Fallback(phase storage.Phase) string {
	if t, ok := fallbacks[phase]; ok {
		return t
	}
	return fallbacks[storage.PhaseIdle]
}
